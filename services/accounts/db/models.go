package db

type User struct {
	CollegeID     string
	EncryptedPass string
	TargetEmail   string
	IsActive      bool
	FailCount     int64
}
