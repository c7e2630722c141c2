package api

const eventsDocsHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Event Stream - moneymask</title>
  <style>
    body {
      margin: 0;
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", sans-serif;
      font-size: 14px;
      line-height: 1.65;
      background: #0d1117;
      color: #c9d1d9;
    }
    a { color: #58a6ff; text-decoration: none; }
    nav {
      background: #161b22;
      border-bottom: 1px solid #30363d;
      padding: 0 24px;
      height: 48px;
      display: flex;
      align-items: center;
      gap: 24px;
    }
    nav .brand { font-weight: 600; font-size: 15px; color: #e6edf3; }
    main { max-width: 860px; margin: 0 auto; padding: 32px 16px 64px; }
    h1 { margin: 0 0 8px; font-size: 28px; font-weight: 600; color: #e6edf3; }
    h2 {
      margin: 40px 0 12px;
      font-size: 18px;
      color: #e6edf3;
      padding-bottom: 8px;
      border-bottom: 1px solid #21262d;
    }
    table { width: 100%; border-collapse: collapse; margin-bottom: 20px; font-size: 13px; }
    th { text-align: left; padding: 8px 12px; background: #161b22; color: #8b949e; border-bottom: 1px solid #30363d; }
    td { padding: 8px 12px; border-bottom: 1px solid #21262d; vertical-align: top; }
    code {
      font-family: "SFMono-Regular", Consolas, "Liberation Mono", Menlo, monospace;
      font-size: 12px;
      background: #161b22;
      border: 1px solid #30363d;
      border-radius: 3px;
      padding: 1px 5px;
      color: #e6edf3;
    }
    pre { background: #161b22; border: 1px solid #30363d; border-radius: 6px; padding: 16px; overflow-x: auto; }
    pre code { background: none; border: none; padding: 0; font-size: 13px; }
  </style>
</head>
<body>
<nav>
  <span class="brand">moneymask</span>
  <a href="/docs">REST API Docs</a>
</nav>
<main>
  <h1>Event Stream</h1>
  <p>Every message relayed between maskd and the masked tab is published as a Server-Sent Event.</p>

  <h2>Endpoint</h2>
  <p><code>GET /api/v1/events</code></p>
  <table>
    <thead><tr><th>Query</th><th>Description</th></tr></thead>
    <tbody>
      <tr>
        <td><code>types</code></td>
        <td>Comma-separated message types to receive. Omit to receive all. Example: <code>?types=maskUpdate,historyUpdate</code></td>
      </tr>
    </tbody>
  </table>

  <h2>Message types</h2>
  <table>
    <thead><tr><th>Type</th><th>Value</th><th>Sent when</th></tr></thead>
    <tbody>
      <tr><td><code>maskUpdate</code></td><td>number</td><td>The mask value setting changes.</td></tr>
      <tr><td><code>isMaskOn</code></td><td>boolean</td><td>Masking is switched on or off.</td></tr>
      <tr><td><code>historyUpdate</code></td><td>string URL</td><td>The tab navigates.</td></tr>
      <tr><td><code>contentScriptReady</code></td><td>none</td><td>A readiness probe is sent to the tab.</td></tr>
    </tbody>
  </table>

  <h2>Format</h2>
  <p>The <code>tab</code> field is omitted for broadcasts. <code>id</code> counts events on the connection.
  Idle streams receive a <code>: ping</code> comment every 15 seconds. An unknown type in
  <code>types</code> is rejected with 400.</p>
  <pre><code>id: 1
event: historyUpdate
data: {"tab":1,"type":"historyUpdate","value":"https://digital.fidelity.com/ftgw/digital/portfolio/positions"}

id: 2
event: maskUpdate
data: {"type":"maskUpdate","value":25000}</code></pre>

  <h2>Example</h2>
  <pre><code>curl -N 'http://127.0.0.1:8190/api/v1/events?types=maskUpdate,isMaskOn'</code></pre>
</main>
</body>
</html>`
