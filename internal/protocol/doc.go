// Package protocol converts between chat wire frames and typed values.
//
// Outbound, an Intent becomes a single JSON object:
//
//	{"type":"text","content":"hi","username":"alice"}
//
// Inbound, the server batches several JSON documents into one WebSocket
// message separated by '\n'. Decode splits such a chunk and returns one
// Event per well-formed segment, in wire order:
//
//	events, err := protocol.Decode(chunk)
//	if err != nil {
//	    logger.Warn("skipped malformed frames", "error", err)
//	}
//	for _, ev := range events {
//	    switch ev := ev.(type) {
//	    case protocol.TextMessage:
//	        fmt.Println(ev.Author, ev.Content)
//	    case protocol.UserJoined, protocol.UserLeft, protocol.SystemMessage:
//	        fmt.Println(ev.Text())
//	    }
//	}
//
// Event content is untrusted plain text. The codec never escapes it;
// renderers must.
//
// The package does no I/O and keeps no state.
package protocol
