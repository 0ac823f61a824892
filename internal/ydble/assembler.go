package ydble

// Assembler reassembles L1 frames split across several notifications.
//
// A notification is parsed on its own unless an earlier one left an
// unfinished frame, in which case the new chunk is appended to the buffered
// bytes first. Any decode error drops the buffer so a corrupt fragment cannot
// poison the frames that follow.
type Assembler struct {
	codec   Codec
	pending []byte
}

// NewAssembler creates an assembler using codec.
func NewAssembler(codec Codec) *Assembler {
	return &Assembler{codec: codec}
}

// Feed consumes one chunk. It returns the frame once complete, or nil while
// more data is needed.
func (a *Assembler) Feed(chunk []byte) (*Frame, error) {
	var data []byte
	if len(a.pending) > 0 {
		data = make([]byte, 0, len(a.pending)+len(chunk))
		data = append(data, a.pending...)
		data = append(data, chunk...)
	} else {
		data = append([]byte(nil), chunk...)
	}
	a.pending = nil

	frame, remaining, err := a.codec.ParseL1(data)
	if err != nil {
		return nil, err
	}
	if remaining > 0 {
		a.pending = data
		return nil, nil
	}
	return &frame, nil
}

// Pending reports the number of buffered bytes awaiting completion.
func (a *Assembler) Pending() int {
	return len(a.pending)
}

// Reset discards any buffered partial frame.
func (a *Assembler) Reset() {
	a.pending = nil
}
