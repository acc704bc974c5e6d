package output

const (
	CmdPlayNote = 0x20
	SOF0        = 0xAA
	SOF1        = 0x55
)

// NoteFrame is one accompaniment note sent to the microcontroller.
type NoteFrame struct {
	Pitch      byte
	Velocity   byte
	DurationCs byte // note length in centiseconds, saturating at 255
	Seq        byte
}

// Encode builds the on-wire representation:
//
//	[SOF0][SOF1][LEN][CMD][pitch][velocity][duration][seq][CKS]
//
// LEN counts CMD plus payload; CKS is the XOR of LEN, CMD and the payload.
func (f *NoteFrame) Encode() []byte {
	payload := []byte{f.Pitch, f.Velocity, f.DurationCs, f.Seq}

	length := byte(len(payload) + 1) // +1 for CMD byte
	cks := length ^ CmdPlayNote
	for _, b := range payload {
		cks ^= b
	}

	out := []byte{SOF0, SOF1, length, CmdPlayNote}
	out = append(out, payload...)
	out = append(out, cks)
	return out
}
