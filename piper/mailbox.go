package piper

// mailbox is the bounded channel backing one data edge (spec.md §4.6.1).
// A mailbox is written to exactly once by its producing node (since each
// output port is written once) and then closed; it is never written to
// after the producer's task exits.
type mailbox chan Delivery

func newMailbox(capacity int) mailbox {
	if capacity < 1 {
		capacity = 1
	}
	return make(mailbox, capacity)
}
