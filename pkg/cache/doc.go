// Package cache provides a generic, thread-safe sliding window: a bounded,
// insertion-ordered buffer indexed by key.
//
// The window is built for fire-and-forget protocols that only report the
// first failure of a stream. Every sent item is inserted; items that age out
// of the window are presumed accepted. When the peer reports a failing key,
// Correlate splits the window in three: the older entries (discarded as
// delivered), the matching entry (the failure) and the newer entries (to be
// sent again). If the failing key already aged out, the whole window is
// returned for resending and the caller is expected to Grow the window.
//
// # Usage
//
//	w := cache.NewWindow(100, func(n Notification) uint32 { return n.ID })
//	w.SetEvictCallback(func(n Notification) {
//		// n aged out without an error report
//	})
//
//	w.Insert(n1)
//	w.Insert(n2)
//
//	failed, found, resend := w.Correlate(reportedID)
//	if !found {
//		newCap := w.Grow(len(resend))
//		_ = newCap
//	}
//
// # Performance Characteristics
//
//   - Insert: O(1)
//   - Correlate: O(n) in the number of drained entries
//   - Grow and SetCapacity: O(1), capacity never shrinks
package cache
