// Package web provides the embedded dashboard HTML/CSS/JS for `rcfuzz serve`.
package web

import "github.com/gofiber/fiber/v2"

// handleDashboard serves the main dashboard HTML
func (s *Server) handleDashboard(c *fiber.Ctx) error {
	c.Set("Content-Type", "text/html; charset=utf-8")
	return c.SendString(dashboardHTML)
}

// handleDashboardJS serves the dashboard JavaScript
func (s *Server) handleDashboardJS(c *fiber.Ctx) error {
	c.Set("Content-Type", "application/javascript; charset=utf-8")
	return c.SendString(dashboardJS)
}

// handleDashboardCSS serves the dashboard CSS
func (s *Server) handleDashboardCSS(c *fiber.Ctx) error {
	c.Set("Content-Type", "text/css; charset=utf-8")
	return c.SendString(dashboardCSS)
}

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>rcfuzz dashboard</title>
    <link rel="stylesheet" href="/dashboard.css">
</head>
<body>
    <div class="app">
        <header class="header">
            <div class="title">
                <span class="title-text">rcfuzz</span>
                <span class="subtitle" id="algorithm">-</span>
            </div>
            <span class="status-indicator" id="status-indicator">
                <span class="status-dot"></span>
                <span class="status-text">connecting</span>
            </span>
        </header>

        <main class="content">
            <section class="stats-grid">
                <div class="stat-card">
                    <span class="stat-value" id="rounds">0</span>
                    <span class="stat-label">rounds</span>
                </div>
                <div class="stat-card">
                    <span class="stat-value" id="snapshots">0</span>
                    <span class="stat-label">snapshots</span>
                </div>
                <div class="stat-card">
                    <span class="stat-value" id="global-bits">0</span>
                    <span class="stat-label">global bitmap bits</span>
                </div>
                <div class="stat-card">
                    <span class="stat-value" id="unique-bugs">0</span>
                    <span class="stat-label">unique bugs</span>
                </div>
            </section>

            <section class="panel">
                <h2>per-fuzzer bitmap popcount</h2>
                <table class="data-table" id="fuzzer-table">
                    <thead>
                        <tr><th>fuzzer</th><th>bitmap bits set</th></tr>
                    </thead>
                    <tbody></tbody>
                </table>
            </section>

            <section class="panel" style="margin-top:16px">
                <h2>exploit rounds</h2>
                <table class="data-table" id="round-table">
                    <thead>
                        <tr><th>started</th><th>ended</th><th>picked</th><th>found new coverage</th></tr>
                    </thead>
                    <tbody></tbody>
                </table>
            </section>
        </main>
    </div>
    <script src="/dashboard.js"></script>
</body>
</html>`

const dashboardCSS = `:root {
    --bg: #0b0d12;
    --panel: #11141b;
    --border: rgba(255,255,255,0.08);
    --fg: #e6e8ee;
    --muted: #8b93a7;
    --accent: #4dd2ff;
    --ok: #3ddc84;
    --font: 'SFMono-Regular', Consolas, monospace;
}

* { margin: 0; padding: 0; box-sizing: border-box; }

body {
    background: var(--bg);
    color: var(--fg);
    font-family: var(--font);
    min-height: 100vh;
}

.header {
    display: flex;
    justify-content: space-between;
    align-items: center;
    padding: 16px 24px;
    border-bottom: 1px solid var(--border);
}

.title-text { font-weight: 700; font-size: 18px; }
.subtitle { color: var(--muted); margin-left: 8px; font-size: 13px; }

.status-indicator {
    display: flex;
    align-items: center;
    gap: 8px;
    padding: 6px 12px;
    border: 1px solid var(--border);
    border-radius: 16px;
}

.status-dot { width: 8px; height: 8px; border-radius: 50%; background: var(--muted); }
.status-indicator.live .status-dot { background: var(--ok); }

.content { padding: 24px; }

.stats-grid {
    display: grid;
    grid-template-columns: repeat(4, 1fr);
    gap: 16px;
    margin-bottom: 24px;
}

.stat-card {
    background: var(--panel);
    border: 1px solid var(--border);
    border-radius: 8px;
    padding: 16px;
    display: flex;
    flex-direction: column;
    gap: 4px;
}

.stat-value { font-size: 26px; font-weight: 700; }
.stat-label { font-size: 12px; color: var(--muted); }

.panel {
    background: var(--panel);
    border: 1px solid var(--border);
    border-radius: 8px;
    padding: 16px;
}

.panel h2 { font-size: 14px; margin-bottom: 12px; color: var(--muted); }

.data-table { width: 100%; border-collapse: collapse; font-size: 13px; }
.data-table th, .data-table td { padding: 8px 12px; text-align: left; border-bottom: 1px solid var(--border); }
.data-table th { color: var(--muted); font-weight: 600; text-transform: uppercase; font-size: 11px; }`

const dashboardJS = `// rcfuzz dashboard: receives the whole run log over the /ws websocket
// each time it changes and renders the latest cohort state.

class RcfuzzDashboard {
    constructor() {
        this.ws = null;
        this.connect();
    }

    connect() {
        const protocol = window.location.protocol === 'https:' ? 'wss:' : 'ws:';
        const url = protocol + '//' + window.location.host + '/ws';
        this.ws = new WebSocket(url);

        this.ws.onopen = () => this.setLive(true);
        this.ws.onclose = () => {
            this.setLive(false);
            setTimeout(() => this.connect(), 2000);
        };
        this.ws.onmessage = (event) => {
            try {
                this.render(JSON.parse(event.data));
            } catch (e) {
                console.error('bad run-log payload', e);
            }
        };
    }

    setLive(live) {
        const indicator = document.getElementById('status-indicator');
        indicator.classList.toggle('live', live);
        indicator.querySelector('.status-text').textContent = live ? 'live' : 'disconnected';
    }

    render(runLog) {
        document.getElementById('algorithm').textContent = runLog.algorithm || '';
        const rounds = runLog.round || [];
        document.getElementById('rounds').textContent = rounds.length;
        const log = runLog.log || [];
        document.getElementById('snapshots').textContent = log.length;

        const latest = log[log.length - 1];
        if (latest) {
            document.getElementById('global-bits').textContent = latest.global_bits ?? 0;
            document.getElementById('unique-bugs').textContent = latest.unique_bugs ?? 0;

            const tbody = document.querySelector('#fuzzer-table tbody');
            tbody.innerHTML = '';
            const perFuzzer = latest.per_fuzzer_bits || {};
            for (const name of Object.keys(perFuzzer).sort()) {
                const row = document.createElement('tr');
                row.innerHTML = '<td>' + name + '</td><td>' + perFuzzer[name] + '</td>';
                tbody.appendChild(row);
            }
        }

        const roundBody = document.querySelector('#round-table tbody');
        roundBody.innerHTML = '';
        for (const r of rounds.slice(-20)) {
            const row = document.createElement('tr');
            row.innerHTML = '<td>' + r.started_at.toFixed(1) + '</td>' +
                '<td>' + r.ended_at.toFixed(1) + '</td>' +
                '<td>' + (r.picked || []).join(', ') + '</td>' +
                '<td>' + (r.found_new_coverage ? 'yes' : 'no') + '</td>';
            roundBody.appendChild(row);
        }
    }
}

document.addEventListener('DOMContentLoaded', () => {
    window.dashboard = new RcfuzzDashboard();
});`
