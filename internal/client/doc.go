// Package client talks to the chat server: the JSON HTTP API (login,
// registration, rooms) and the WebSocket transport that carries the chat
// channel.
//
// # HTTP API
//
//	c := client.New("http://localhost:8080")
//	resp, err := c.Login(ctx, client.LoginRequest{Username: "alice", Password: "secret"})
//	if err != nil {
//	    var apiErr *client.APIError
//	    if errors.As(err, &apiErr) {
//	        fmt.Println("server said:", apiErr.Message())
//	    }
//	}
//
// # WebSocket transport
//
// ChannelURL derives the channel address from the base URL: http becomes ws,
// https becomes wss, the host is kept and the path is /ws with the token in
// the query string.
//
//	u, _ := c.ChannelURL(resp.Token, 0)
//	conn, err := client.NewWSDialer().Dial(ctx, u)
//	defer conn.Close(true)
//
// A Conn is read by one goroutine and written by one goroutine; ReadChunk
// returns whole WebSocket text messages, which may hold several
// newline-separated frames.
package client
