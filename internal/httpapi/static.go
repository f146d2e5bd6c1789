package httpapi

// adminIndexHTML is a minimal static shell for the admin console. It
// carries no inline secrets or session state; the page's own script
// calls the JSON admin API (session/login, adapters, audit, ...) to
// render anything further.
const adminIndexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>Pincer Admin</title>
</head>
<body>
  <h1>Pincer Admin</h1>
  <p>Sign in at <code>POST /v1/admin/session/login</code> to manage adapters and secrets.</p>
  <p>No admin user yet? Visit <a href="/admin/bootstrap">/admin/bootstrap</a>.</p>
</body>
</html>
`

// adminBootstrapHTML is the static bootstrap form shell.
const adminBootstrapHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>Pincer Admin Bootstrap</title>
</head>
<body>
  <h1>Bootstrap the admin user</h1>
  <p>POST your bootstrap token, a username, and a password to <code>/v1/admin/bootstrap</code>.</p>
</body>
</html>
`
