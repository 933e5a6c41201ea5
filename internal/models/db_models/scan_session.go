package db_models

// ScanSession is the server-side record of a bottle scan. Its brand and
// confidence come from the scanning pipeline, not from the submitting client.
type ScanSession struct {
	BaseModel
	DetectedBrand    string  `gorm:"size:128"`
	BottleConfidence float64 `gorm:"not null;default:0"`
	ClientIP         string  `gorm:"size:64"`
}

// DailyApprovalCounter buckets automatic approvals by calendar day
// ("2006-01-02" in the configured zone).
type DailyApprovalCounter struct {
	Day       string `gorm:"primaryKey;size:10"`
	Count     int    `gorm:"not null;default:0"`
	UpdatedAt int64  `gorm:"autoUpdateTime"`
}
