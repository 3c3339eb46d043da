package api

import "encoding/base64"

// welcomePage is served for GET and HEAD on the root path
const welcomePage = `<!DOCTYPE html>
<html>
<head>
  <title>Constellation</title>
  <style>
    body { font-family: sans-serif; margin: 4em auto; max-width: 40em; color: #222; }
    h1 { font-weight: normal; }
    code { background: #f4f4f4; padding: 0.1em 0.3em; }
  </style>
</head>
<body>
  <h1>Constellation</h1>
  <p>This is a Constellation controller. Requests to any path other than
  this page are proxied to the worker that owns the resource.</p>
  <p>Workers connect on the socket channel; operators query
  <code>/workers</code> and <code>/maps</code> with an API key.</p>
</body>
</html>
`

// faviconPNG is the bundled 1x1 icon, decoded once at startup
var faviconPNG, _ = base64.StdEncoding.DecodeString(
	"iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg==")
