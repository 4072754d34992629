package stm

// pending is a buffered write. version is the one the write was based on and
// must still be current at commit.
type pending struct {
	value   any
	version uint64
}

// commute is re-run against the latest committed value at commit time.
type commute struct {
	id uint64
	fn func(any) any
}

type outcome int

const (
	committed outcome = iota
	conflicted
	failed
)

// result is what one commit attempt reports back to the retry loop.
type result struct {
	outcome     outcome
	err         error
	returned    any
	hasReturned bool
}
