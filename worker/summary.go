package worker

// Summary is the per-invocation outcome a job reports to the run log.
// Processed counts rows picked up as due; Skipped counts rows another
// invocation won, plus silent skips like unsubscribed recipients.
type Summary struct {
	Processed int
	Succeeded int
	Failed    int
	Skipped   int
}

func (s *Summary) add(other Summary) {
	s.Processed += other.Processed
	s.Succeeded += other.Succeeded
	s.Failed += other.Failed
	s.Skipped += other.Skipped
}
