package domain

// Node represents a single participant in the DHT ring.
type Node struct {
	ID   ID     // identifier in the 2^Bits space
	Addr string // network address, e.g. "127.0.0.1:5000"
}
