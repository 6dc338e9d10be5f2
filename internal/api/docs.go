package api

const docsHTML = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="referrer" content="same-origin" />
  <meta name="viewport" content="width=device-width, initial-scale=1, shrink-to-fit=no" />
  <title>ipvwatch API</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
</head>
<body style="height: 100vh; margin: 0; position: relative;">
  <a href="/docs/stream" style="
    position: fixed;
    top: 12px;
    right: 16px;
    z-index: 9999;
    background: #161b22;
    border: 1px solid #30363d;
    border-radius: 6px;
    color: #58a6ff;
    font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif;
    font-size: 12px;
    padding: 5px 12px;
    text-decoration: none;
  ">Tab stream docs</a>
  <elements-api
    apiDescriptionUrl="/openapi.json"
    router="hash"
    layout="sidebar"
    tryItCredentialsPolicy="same-origin"
    darkMode
  />
</body>
</html>`

const streamDocsHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>Tab stream - ipvwatch</title>
  <style>
    body { margin: 0 auto; max-width: 760px; padding: 24px; font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif;
           font-size: 14px; line-height: 1.65; background: #0d1117; color: #c9d1d9; }
    code, pre { background: #161b22; border: 1px solid #30363d; border-radius: 4px; }
    pre { padding: 12px; overflow-x: auto; }
    a { color: #58a6ff; }
  </style>
</head>
<body>
  <p><a href="/docs">API reference</a></p>
  <h1>Tab stream</h1>
  <p>Subscribe to one tab with <code>GET /api/v1/tabs/{tab_id}/events</code> (server-sent events) or
  <code>GET /api/v1/tabs/{tab_id}/ws</code> (WebSocket). The first message is always a full
  <code>pushAll</code>; incremental messages follow.</p>
  <table>
    <tr><td><code>pushAll</code></td><td>every row, main domain first, plus <code>spillCount</code></td></tr>
    <tr><td><code>pushOne</code></td><td>one added or changed row in <code>tuple</code></td></tr>
    <tr><td><code>pushSpillCount</code></td><td>domains dropped because the tab hit its cap</td></tr>
    <tr><td><code>pushPattern</code></td><td>the badge pattern, for example <code>46</code></td></tr>
  </table>
  <p>A row is <code>{"domain","addr","version","flags"}</code>. Flag bits: 1 secure, 2 insecure, 4 not from cache,
  8 connected, 16 websocket, 32 main page.</p>
  <p>Over WebSocket the client may send <code>{"cmd":"resync"}</code> to get a fresh <code>pushAll</code>.
  A subscriber that falls behind has messages dropped and should resync.</p>
<pre>event: pushOne
data: {"cmd":"pushOne","tuple":{"domain":"cdn.example","addr":"2001:db8::1","version":"6","flags":13},"spillCount":0}</pre>
</body>
</html>`
