package platform

// NoBus stands in for an adapter that could not be opened. Every transfer
// fails with Err, so each sensor on it fails its own setup.
type NoBus struct{ Err error }

func (b NoBus) Tx(uint16, []byte, []byte) error { return b.Err }
