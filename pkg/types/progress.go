package types

// Progress messages are the only channel between a running driver and
// its consumer. Each driver has its own closed message set; consumers
// switch on the concrete type.

// ScanProgress is a message from a scan driver.
type ScanProgress interface{ scanProgress() }

// ScanStateChanged reports a phase transition, including terminal ones.
type ScanStateChanged struct {
	State ScanState `json:"state"`
}

// ScanFileFound reports one file found during the discovery walk.
type ScanFileFound struct {
	Path       string `json:"path"`
	FilesFound int    `json:"files_found"`
}

// ScanDiscoveryDone reports the end of discovery. When Truncated is set
// the walk matched more files than the cap and Kept holds the number of
// most-recently-modified files retained.
type ScanDiscoveryDone struct {
	TotalMatched int  `json:"total_matched"`
	Kept         int  `json:"kept"`
	Truncated    bool `json:"truncated,omitempty"`
}

// ScanFilesDetected carries discovered-file metadata after detection.
// Append marks batches added to an existing session rather than
// replacing the file list.
type ScanFilesDetected struct {
	Files  []DiscoveredFile `json:"files"`
	Append bool             `json:"append,omitempty"`
}

// ScanFileStarted reports that parsing of one file began.
type ScanFileStarted struct {
	Path       string `json:"path"`
	Index      int    `json:"index"`
	TotalFiles int    `json:"total_files"`
}

// ScanFileParsed reports per-file parse completion.
type ScanFileParsed struct {
	Path           string `json:"path"`
	Entries        int    `json:"entries"`
	Errors         int    `json:"errors"`
	FilesCompleted int    `json:"files_completed"`
	TotalFiles     int    `json:"total_files"`
}

// ScanFileFailed reports a file abandoned after retries.
type ScanFileFailed struct {
	Path string     `json:"path"`
	Err  ParseError `json:"error"`
}

// ScanEntries carries one sorted batch of parsed entries.
type ScanEntries struct {
	Entries []LogEntry `json:"entries"`
}

// ScanWarning reports a non-fatal condition.
type ScanWarning struct {
	Message string `json:"message"`
}

// ScanCompleted carries the final summary. Sent for both completed and
// cancelled scans; cancelled scans carry partial totals.
type ScanCompleted struct {
	Summary ScanSummary `json:"summary"`
}

// ScanFailed reports that the scan could not proceed at all.
type ScanFailed struct {
	Reason string `json:"reason"`
}

func (ScanStateChanged) scanProgress()  {}
func (ScanFileFound) scanProgress()     {}
func (ScanDiscoveryDone) scanProgress() {}
func (ScanFilesDetected) scanProgress() {}
func (ScanFileStarted) scanProgress()   {}
func (ScanFileParsed) scanProgress()    {}
func (ScanFileFailed) scanProgress()    {}
func (ScanEntries) scanProgress()       {}
func (ScanWarning) scanProgress()       {}
func (ScanCompleted) scanProgress()     {}
func (ScanFailed) scanProgress()        {}

// TailProgress is a message from a tail driver.
type TailProgress interface{ tailProgress() }

// TailStarted reports that tailing began for the given file count.
type TailStarted struct {
	FileCount int `json:"file_count"`
}

// TailEntries carries entries observed since the previous poll tick.
type TailEntries struct {
	Entries []LogEntry `json:"entries"`
}

// TailFileError reports a per-file problem; tailing of other files
// continues.
type TailFileError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// TailStopped reports that the driver exited.
type TailStopped struct{}

func (TailStarted) tailProgress()   {}
func (TailEntries) tailProgress()   {}
func (TailFileError) tailProgress() {}
func (TailStopped) tailProgress()   {}

// WatchProgress is a message from a directory watch driver.
type WatchProgress interface{ watchProgress() }

// WatchNewFiles carries files that appeared since the previous poll.
// Batches are emitted incrementally during the walk.
type WatchNewFiles struct {
	Files []DiscoveredFile `json:"files"`
}

// WatchFilesChanged carries known files whose modification time moved.
type WatchFilesChanged struct {
	Files []DiscoveredFile `json:"files"`
}

// WatchStopped reports that the driver exited.
type WatchStopped struct{}

func (WatchNewFiles) watchProgress()     {}
func (WatchFilesChanged) watchProgress() {}
func (WatchStopped) watchProgress()      {}
