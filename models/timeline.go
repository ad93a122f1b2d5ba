package models

// EmailContent is the message an email node produces.
type EmailContent struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TimelineEntry is one send in a linearized sequence, DelaySeconds after the
// lead entered it.
type TimelineEntry struct {
	NodeID       string       `json:"nodeId"`
	DelaySeconds int64        `json:"delaySeconds"`
	Email        EmailContent `json:"email"`
}

// Timeline walks the nodes in stored order and returns the sends a lead
// entering the sequence receives. Delay nodes add to the running offset,
// email nodes emit at the current offset without moving it, lead source
// nodes are skipped. Edges are not followed; Validate guarantees they agree
// with the stored order. The offset saturates at MaxDelaySeconds.
func (s *Sequence) Timeline() []TimelineEntry {
	entries := make([]TimelineEntry, 0, len(s.Nodes))

	var currentDelay int64
	for _, node := range s.OrderedNodes() {
		switch data := node.Data.(type) {
		case DelayNodeData:
			// negative delays never pass validation; ignore them here too
			if data.DelaySeconds <= 0 {
				continue
			}
			if data.DelaySeconds > MaxDelaySeconds-currentDelay {
				currentDelay = MaxDelaySeconds
			} else {
				currentDelay += data.DelaySeconds
			}
		case EmailNodeData:
			entries = append(entries, TimelineEntry{
				NodeID:       node.ID,
				DelaySeconds: currentDelay,
				Email:        EmailContent{Subject: data.Subject, Body: data.Body},
			})
		}
	}

	return entries
}
