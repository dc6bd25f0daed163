package migrate

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"

	"github.com/chmdznr/case-attachment-migrator/pkg/utils"
)

// migrateProgress tracks counters for one run. It is shared by case workers.
type migrateProgress struct {
	TotalCases       int64
	ProcessedCases   int64
	TransferredFiles int64
	TransferredSize  int64
	SkippedFiles     int64
	FailedFiles      int64
	startTime        time.Time
	bar              *pb.ProgressBar
	sync.Mutex
}

func newMigrateProgress(totalCases int64, showBar bool, out io.Writer) *migrateProgress {
	p := &migrateProgress{
		TotalCases: totalCases,
		startTime:  time.Now(),
	}
	if showBar {
		p.bar = pb.New64(totalCases)
		p.bar.SetWriter(out)
		p.bar.SetTemplate(`Cases {{counters . }} {{bar . }} {{percent . }} {{etime . }}`)
		p.bar.Start()
	}
	return p
}

func (p *migrateProgress) Transferred(size int64) {
	p.Lock()
	defer p.Unlock()
	p.TransferredFiles++
	p.TransferredSize += size
}

func (p *migrateProgress) Skipped(n int) {
	p.Lock()
	defer p.Unlock()
	p.SkippedFiles += int64(n)
}

func (p *migrateProgress) Failed() {
	p.Lock()
	defer p.Unlock()
	p.FailedFiles++
}

func (p *migrateProgress) CaseDone() {
	p.Lock()
	defer p.Unlock()
	p.ProcessedCases++
	if p.bar != nil {
		p.bar.Increment()
	}
}

func (p *migrateProgress) finish() {
	if p.bar != nil {
		p.bar.Finish()
	}
}

// Print writes the run summary followed by the failure list.
func (p *migrateProgress) Print(out io.Writer, failures []string) {
	p.Lock()
	defer p.Unlock()

	fmt.Fprintf(out, "\nMigration completed in %s:\n", utils.FormatDuration(time.Since(p.startTime)))
	fmt.Fprintf(out, "- Cases: %d/%d processed\n", p.ProcessedCases, p.TotalCases)
	fmt.Fprintf(out, "- Transferred: %d files (%s)\n", p.TransferredFiles, utils.FormatSize(p.TransferredSize))
	fmt.Fprintf(out, "- Already present: %d files\n", p.SkippedFiles)
	fmt.Fprintf(out, "- Failed: %d files\n", p.FailedFiles)

	if len(failures) > 0 {
		fmt.Fprintf(out, "Could not migrate %d case(s):\n", len(failures))
		for _, f := range failures {
			fmt.Fprintln(out, f)
		}
	}
}
