package models

// Stats represents ledger statistics for a project
type Stats struct {
	Runs          int64
	TotalFiles    int64
	TotalSize     int64
	UploadedFiles int64
	UploadedSize  int64
	SkippedFiles  int64
	FailedFiles   int64
	FailedSize    int64
	Failures      int64 // report entries across all runs
}
