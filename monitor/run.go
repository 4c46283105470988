package monitor

import (
	"context"

	"github.com/hazyhaar/sitediff/sites"
)

// Run checks every site in order and returns the batch report. One site's
// failure never stops the batch; a cancelled ctx does, and the sites left
// are counted as skipped.
func (d *Detector) Run(ctx context.Context, list []sites.Site) Report {
	rep := Report{Started: d.cfg.Now(), Counts: make(map[Outcome]int)}
	d.log.Info("monitor: batch started", "sites", len(list))
	for i, site := range list {
		if ctx.Err() != nil {
			rep.Skipped = len(list) - i
			d.log.Warn("monitor: batch interrupted", "skipped", rep.Skipped, "error", ctx.Err())
			break
		}
		rep.add(d.Check(ctx, site))
	}
	rep.Finished = d.cfg.Now()
	d.log.Info("monitor: batch complete",
		"first_run", rep.Count(FirstRun),
		"unchanged", rep.Count(Unchanged),
		"changed", rep.Count(Changed),
		"fetch_failed", rep.Count(FetchFailed),
		"change_failed", rep.Count(ChangeFailed),
		"duration", rep.Finished.Sub(rep.Started))
	return rep
}

// RunFile loads the site list at path and runs it. An unreadable or
// malformed list is reported to the admin destination and returned as an
// error; nothing is checked.
func (d *Detector) RunFile(ctx context.Context, path string) (Report, error) {
	list, err := sites.Load(path)
	if err != nil {
		d.log.Error("monitor: site list unreadable", "path", path, "error", err)
		d.Alert(ctx, SiteListFailedText(path, err))
		return Report{}, err
	}
	d.log.Info("monitor: site list loaded", "path", path, "sites", len(list))
	return d.Run(ctx, list), nil
}
