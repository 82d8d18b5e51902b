// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the built-in test page.
package server

import (
	"fmt"
	"net/http"
)

// WebSocketHandler upgrades the request and starts a chat session. The
// session reads frames immediately but only dispatches them once identity
// resolution has finished and the session is registered.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	credential := credentialFrom(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	if s.hub.stopped() {
		_ = conn.Close()
		return
	}

	client := NewClient(conn, s.hub, s.store, s.log, r.RemoteAddr, s.cfg)
	s.hub.track(client.readPump)
	s.hub.track(func() { client.connect(s.resolver, credential) })
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "GoChat server is running!")
}

// TestPageHandler serves an HTML page that speaks the chat protocol: it
// requests history on connect, posts messages and removes expired ones.
func (s *Server) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		s.log.Warn("Error writing HTML response", "error", err)
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>GoChat</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages { border: 1px solid #ccc; height: 300px; padding: 10px; overflow-y: scroll; margin: 10px 0; background-color: #f9f9f9; }
        input[type="text"] { width: 300px; padding: 5px; margin-right: 10px; }
        .user { font-weight: bold; margin-right: 6px; }
    </style>
</head>
<body>
    <h1>GoChat</h1>
    <div>
        <input type="text" id="token" placeholder="Bearer token (optional)">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>
    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');

        function addMessage(m) {
            if (document.getElementById('msg-' + m.id)) return;
            const el = document.createElement('div');
            el.id = 'msg-' + m.id;
            el.title = new Date(m.time).toLocaleString();
            const user = document.createElement('span');
            user.className = 'user';
            user.textContent = m.user.name || m.user.id;
            const value = document.createElement('span');
            value.textContent = m.value;
            el.appendChild(user);
            el.appendChild(value);
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function removeMessage(id) {
            const el = document.getElementById('msg-' + id);
            if (el) el.remove();
        }

        function handleFrame(frame) {
            if (frame.type === 'message') addMessage(frame.message);
            else if (frame.type === 'messages') frame.messages.forEach(addMessage);
            else if (frame.type === 'deleteMessage') removeMessage(frame.id);
        }

        function setConnected(connected) {
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const token = document.getElementById('token').value.trim();
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            let url = scheme + location.host + '/ws';
            if (token) url += '?token=' + encodeURIComponent(token);
            ws = new WebSocket(url);
            ws.onopen = function() {
                setConnected(true);
                ws.send(JSON.stringify({type: 'getMessages'}));
            };
            ws.onmessage = function(event) {
                event.data.split('\n').filter(Boolean).forEach(function(line) {
                    handleFrame(JSON.parse(line));
                });
            };
            ws.onclose = function() {
                setConnected(false);
                ws = null;
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) ws.close();
            else connect();
        }

        function sendMessage() {
            const value = messageInput.value.trim();
            if (value && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({type: 'message', value: value}));
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') sendMessage();
        });
    </script>
</body>
</html>`
