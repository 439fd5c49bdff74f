// Package server serves a built-in HTML page for exercising the sign-up,
// verification, and messaging flow against a running server.
package server

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// TestPageHandler serves an HTML test page for trying out the WebSocket chat.
// It signs in over the /ws endpoint with Basic credentials and sends directed
// messages in the {to, payload} wire format.
func (a *App) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	html := `<!DOCTYPE html>
<html>
<head>
    <title>chatwire test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages { border: 1px solid #ccc; height: 300px; padding: 10px; overflow-y: scroll; margin: 10px 0; background-color: #f9f9f9; }
        input[type="text"], input[type="password"] { padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
    </style>
</head>
<body>
    <h1>chatwire test</h1>
    <div>
        <input type="text" id="userId" placeholder="id">
        <input type="password" id="password" placeholder="password">
        <button onclick="connect()">Connect</button>
    </div>
    <div>
        <input type="text" id="to" placeholder="recipient id">
        <input type="text" id="payload" placeholder="message">
        <button onclick="send()">Send</button>
    </div>
    <div id="messages"></div>
    <script>
        let ws = null;
        function log(text) {
            const div = document.createElement('div');
            div.textContent = text;
            const messages = document.getElementById('messages');
            messages.appendChild(div);
            messages.scrollTop = messages.scrollHeight;
        }
        function connect() {
            const id = document.getElementById('userId').value;
            const password = document.getElementById('password').value;
            const url = 'ws://' + id + ':' + password + '@' + location.host + '/ws';
            ws = new WebSocket(url);
            ws.onopen = () => log('connected as ' + id);
            ws.onmessage = (event) => log(event.data);
            ws.onclose = () => { log('disconnected'); ws = null; };
        }
        function send() {
            if (!ws || ws.readyState !== WebSocket.OPEN) { log('not connected'); return; }
            ws.send(JSON.stringify({
                to: document.getElementById('to').value,
                payload: document.getElementById('payload').value
            }));
        }
    </script>
</body>
</html>`
	if _, err := fmt.Fprint(w, html); err != nil {
		a.log.Error("writing test page", zap.Error(err))
	}
}
