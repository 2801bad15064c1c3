package segment

import (
	"fmt"

	"github.com/TheSmallBoat/seglog/wire"
)

var _ wire.ReplyProcessor = (*responseProcessor)(nil)

// responseProcessor handles replies for one connection established by r. Replies relayed by a
// connection that has since been replaced do not trigger another reconnection.
type responseProcessor struct {
	r   *Reader
	ref *connRef
}

func (p *responseProcessor) WrongHost(c wire.WrongHost) {
	p.recover(fmt.Errorf("%w: %s", ErrConnectionFailed, c))
}

func (p *responseProcessor) NoSuchStream(c wire.NoSuchStream) {
	p.recover(fmt.Errorf("%w: %s", ErrInvalidTarget, c))
}

func (p *responseProcessor) NoSuchSegment(c wire.NoSuchSegment) {
	p.recover(fmt.Errorf("%w: %s", ErrInvalidTarget, c))
}

func (p *responseProcessor) SegmentRead(c wire.SegmentRead) {
	p.r.pending.completeAndRemove(c.RequestID, c)
}

func (p *responseProcessor) ConnectionDropped() {
	if p.ref.markDropped() {
		return
	}
	p.recover(fmt.Errorf("%w: connection to '%s' dropped", ErrConnectionFailed, p.r.endpoint))
}

func (p *responseProcessor) recover(cause error) {
	if p.r.closed.Load() {
		return
	}
	if !p.r.slot.current(p.ref) {
		p.r.logger.Printf("Ignoring stale notice for segment '%s': %v", p.r.segment, cause)
		return
	}
	_ = p.r.reconnect(cause)
}
