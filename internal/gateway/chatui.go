package gateway

import (
	"fmt"
	"net/http"

	"github.com/hayahq/haya/internal/errdefs"
)

// handleChatUI serves the minimal built-in chat page. All inline assets
// carry the per-response CSP nonce; the page itself needs no token, the
// WebSocket it opens does.
func (s *Server) handleChatUI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, errdefs.CodeInvalidRequest, "GET required")
		return
	}
	nonce := nonceFromContext(r.Context())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, chatPage, nonce, nonce)
}

const chatPage = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Haya</title>
<style nonce="%s">
body { font-family: system-ui, sans-serif; max-width: 46rem; margin: 2rem auto; padding: 0 1rem; }
#log { border: 1px solid #ccc; border-radius: 6px; min-height: 18rem; padding: 0.75rem; white-space: pre-wrap; }
.me { color: #555; }
.bot { color: #000; margin-bottom: 0.75rem; }
form { display: flex; gap: 0.5rem; margin-top: 0.75rem; }
input[type=text] { flex: 1; padding: 0.5rem; }
</style>
</head>
<body>
<h1>Haya</h1>
<div id="log"></div>
<form id="f">
<input type="text" id="msg" placeholder="Message" autocomplete="off" autofocus>
<button type="submit">Send</button>
</form>
<script nonce="%s">
const token = sessionStorage.getItem("haya-token") || prompt("Gateway token");
sessionStorage.setItem("haya-token", token);
const scheme = location.protocol === "https:" ? "wss" : "ws";
const ws = new WebSocket(scheme + "://" + location.host + "/?token=" + encodeURIComponent(token));
const log = document.getElementById("log");
let nextId = 1, current = null;
function line(cls, text) {
  const el = document.createElement("div");
  el.className = cls;
  el.textContent = text;
  log.appendChild(el);
  log.scrollTop = log.scrollHeight;
  return el;
}
ws.onclose = (e) => line("bot", "[disconnected: " + (e.reason || e.code) + "]");
ws.onmessage = (e) => {
  const f = JSON.parse(e.data);
  if (f.event === "chat.delta") {
    if (!current) current = line("bot", "");
    current.textContent += f.data.content;
  } else if (f.event === "chat.response") {
    current = null;
  } else if (f.error) {
    line("bot", "[error: " + f.error.message + "]");
  }
};
document.getElementById("f").onsubmit = (e) => {
  e.preventDefault();
  const msg = document.getElementById("msg");
  if (!msg.value.trim()) return;
  line("me", "> " + msg.value);
  ws.send(JSON.stringify({
    id: String(nextId++),
    method: "chat.stream",
    params: { sessionId: "webchat-ui", message: msg.value }
  }));
  msg.value = "";
};
</script>
</body>
</html>
`
