package api

// docsHTML renders the OpenAPI document served by huma at /openapi.json.
const docsHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>moneymask control API</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
  <style>
    html, body { height: 100%; margin: 0; }
    nav.mm {
      position: fixed; top: 10px; right: 14px; z-index: 10;
      font: 500 12px system-ui, sans-serif;
    }
    nav.mm a {
      margin-left: 6px; padding: 4px 10px; border-radius: 6px;
      background: #0d1117; border: 1px solid #30363d; color: #7ee787;
      text-decoration: none;
    }
  </style>
</head>
<body>
  <nav class="mm">
    <a href="/openapi.json">openapi.json</a>
    <a href="/docs/events">Event stream</a>
  </nav>
  <elements-api apiDescriptionUrl="/openapi.json" router="hash" layout="sidebar" tryItCredentialsPolicy="same-origin" />
</body>
</html>`
