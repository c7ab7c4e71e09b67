package view

import (
	"bytes"
	"html/template"
)

// ConnectingPageData provides the dynamic fields of the "connecting" page
// shown before a dialed number forwards to its site.
type ConnectingPageData struct {
	Title          string
	Number         string
	TargetURL      string
	ConnectingText string
	VisitText      string
	// AutoRedirect starts a countdown of DelayMs before leaving the page.
	AutoRedirect bool
	DelayMs      int64
}

var connectingPageTmpl = template.Must(template.New("connecting_page").Parse(`
<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="utf-8" />
	<meta name="viewport" content="width=device-width, initial-scale=1" />
	<meta name="robots" content="noindex" />
	<title>{{.Title}}</title>
	<style>
		:root {
			--bg: #090a0f;
			--card: rgba(255, 255, 255, 0.05);
			--border: rgba(255, 255, 255, 0.15);
			--text: #e7ecff;
			--muted: #a1acc5;
			--accent: #7dd3fc;
			--accent-strong: #38bdf8;
			font-family: "Inter", -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif;
		}
		* { box-sizing: border-box; }
		body {
			margin: 0;
			min-height: 100vh;
			display: flex;
			align-items: center;
			justify-content: center;
			background: radial-gradient(circle at 20% 20%, #111827, #030712 60%);
			color: var(--text);
		}
		.card {
			background: var(--card);
			border: 1px solid var(--border);
			border-radius: 18px;
			padding: 32px;
			width: min(520px, 92vw);
			box-shadow: 0 45px 100px rgba(0,0,0,0.35);
		}
		.number {
			font-size: 0.82rem;
			text-transform: uppercase;
			letter-spacing: 0.08em;
			color: var(--muted);
		}
		h1 {
			font-size: 1.5rem;
			margin: 6px 0 0;
		}
		.status {
			margin: 24px 0;
			padding: 18px;
			border-radius: 14px;
			background: rgba(125, 211, 252, 0.07);
			border: 1px solid rgba(125, 211, 252, 0.25);
			word-break: break-all;
		}
		.status p {
			margin: 0 0 8px;
			color: var(--muted);
		}
		a.button {
			display: inline-flex;
			align-items: center;
			justify-content: center;
			padding: 0 28px;
			height: 48px;
			border-radius: 999px;
			background: linear-gradient(120deg, var(--accent), var(--accent-strong));
			color: #050708;
			font-weight: 600;
			text-decoration: none;
		}
		.timer {
			margin-left: 12px;
			font-size: 0.95rem;
			color: var(--muted);
		}
	</style>
</head>
<body>
	<div class="card">
		<div class="number">#{{.Number}}</div>
		<h1>{{.Title}}</h1>

		<div class="status">
			<p>{{.ConnectingText}}</p>
			<div>{{.TargetURL}}</div>
		</div>

		<a id="visit" class="button" href="{{.TargetURL}}" rel="noopener noreferrer">{{.VisitText}}</a>
		{{if .AutoRedirect}}<span class="timer" id="countdown"></span>{{end}}
	</div>

	{{if .AutoRedirect}}
	<script>
		(function() {
			const target = {{.TargetURL}};
			const deadline = Date.now() + {{.DelayMs}};
			const countdown = document.getElementById("countdown");

			const tick = () => {
				const remaining = deadline - Date.now();
				if (remaining <= 0) {
					window.location.assign(target);
					return;
				}
				if (countdown) {
					countdown.textContent = Math.ceil(remaining / 1000).toString() + "s";
				}
				setTimeout(tick, Math.min(remaining, 250));
			};
			tick();
		})();
	</script>
	{{end}}
</body>
</html>
`))

// RenderConnectingPage expands the connecting page template with the provided data.
func RenderConnectingPage(data ConnectingPageData) (string, error) {
	if data.Title == "" {
		data.Title = data.Number
	}
	if data.DelayMs < 0 {
		data.DelayMs = 0
	}
	var buf bytes.Buffer
	if err := connectingPageTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
