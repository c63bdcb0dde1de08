// Package templates renders the HTML pages served by the web app.
package templates

import (
	"context"
	"io"
	"strings"

	"github.com/a-h/templ"
)

// IndexPage is the single-page front end: inspect a URL, pick a quality,
// follow progress over the websocket and fetch the file.
func IndexPage(qualities []string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(pageHead)
		b.WriteString(`<select id="quality" name="quality">`)
		for _, q := range qualities {
			v := templ.EscapeString(q)
			b.WriteString(`<option value="` + v + `">` + v + `</option>`)
		}
		b.WriteString(`</select>`)
		b.WriteString(pageTail)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

const pageHead = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Video Downloader</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 720px; margin: 2rem auto; padding: 0 1rem; }
input, select, button { font-size: 1rem; padding: .4rem; }
#url { width: 100%; box-sizing: border-box; margin-bottom: .5rem; }
progress { width: 100%; }
.error { color: #b00020; }
.meta img { max-width: 240px; }
</style>
</head>
<body>
<h1>Video Downloader</h1>
<form id="form">
<input id="url" name="url" type="url" placeholder="https://www.youtube.com/watch?v=..." required>
<button type="button" id="inspect">Inspect</button>
`

const pageTail = `
<button type="submit">Download</button>
</form>
<div id="meta" class="meta"></div>
<div id="status"></div>
<progress id="bar" max="100" value="0" hidden></progress>
<p id="error" class="error"></p>
<script>
const $ = (id) => document.getElementById(id);

async function post(path, body) {
  const res = await fetch(path, {method: "POST", headers: {"Content-Type": "application/json"}, body: JSON.stringify(body)});
  const data = await res.json();
  if (!res.ok) throw new Error(data.error || res.statusText);
  return data;
}

$("inspect").addEventListener("click", async () => {
  $("error").textContent = "";
  $("meta").textContent = "Inspecting...";
  try {
    const m = await post("/api/metadata", {url: $("url").value});
    const meta = $("meta");
    meta.textContent = "";
    if (m.thumbnail) { const img = document.createElement("img"); img.src = m.thumbnail; meta.appendChild(img); }
    const p = document.createElement("p");
    p.textContent = m.title + " (" + m.duration + ") by " + m.uploader;
    meta.appendChild(p);
    const sel = $("quality");
    sel.textContent = "";
    for (const q of m.available_qualities || []) {
      const opt = document.createElement("option");
      opt.value = q;
      const size = (m.estimated_sizes || {})[q];
      opt.textContent = size ? q + " (~" + (size / 1048576).toFixed(1) + " MiB)" : q;
      sel.appendChild(opt);
    }
  } catch (err) {
    $("meta").textContent = "";
    $("error").textContent = err.message;
  }
});

$("form").addEventListener("submit", async (ev) => {
  ev.preventDefault();
  $("error").textContent = "";
  try {
    const {id} = await post("/api/download", {url: $("url").value, quality: $("quality").value});
    follow(id);
  } catch (err) {
    $("error").textContent = err.message;
  }
});

function follow(id) {
  const bar = $("bar");
  bar.hidden = false;
  bar.value = 0;
  const proto = location.protocol === "https:" ? "wss://" : "ws://";
  const ws = new WebSocket(proto + location.host + "/ws/" + id);
  ws.onmessage = (msg) => {
    const evt = JSON.parse(msg.data);
    bar.value = evt.progress;
    $("status").textContent = evt.status + " " + Math.round(evt.progress) + "%";
    if (evt.status === "completed") {
      ws.close();
      window.location = evt.download_url;
    } else if (evt.status === "error") {
      ws.close();
      $("error").textContent = evt.error || "download failed";
    }
  };
}
</script>
</body>
</html>
`
