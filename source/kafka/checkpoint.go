package kafka

// Checkpoint maps a partition to the offset of the last record successfully
// delivered to the task loop. On recovery the reader resumes each listed
// partition at offset+1; the external engine owns durable storage of the map
// between epochs.
type Checkpoint map[int32]int64

// Clone returns an independent copy so the engine can persist a snapshot
// while the reader keeps advancing.
func (c Checkpoint) Clone() Checkpoint {
	out := make(Checkpoint, len(c))
	for p, off := range c {
		out[p] = off
	}
	return out
}
