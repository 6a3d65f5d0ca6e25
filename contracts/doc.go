// Package contracts provides the message model shared by every component of
// the busfutures library.
//
// A Message is the unit of traffic on a bus connection:
//   - MethodCall: a request addressed to a destination and object path
//   - MethodReturn: the successful reply to a method call
//   - Error: the failed reply to a method call
//   - Signal: a broadcast expecting no reply
//
// Replies carry the serial number of the call they answer in ReplySerial;
// that field is what the dispatch loop in the messaging package correlates on.
package contracts
