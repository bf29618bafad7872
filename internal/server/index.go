package server

// indexHTML is a small control page driven by the JSON endpoints and /ws.
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>WaveDeck</title>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/@picocss/pico@2/css/pico.min.css">
</head>
<body>
<main class="container">
    <h1>WaveDeck</h1>
    <article id="banner" hidden></article>
    <p><strong id="state">idle</strong> <span id="timer"></span> <small id="codec"></small></p>
    <button id="record">Start recording</button>
    <table>
        <thead><tr><th>Name</th><th>Duration</th><th>Created</th><th>Size</th><th></th></tr></thead>
        <tbody id="list"></tbody>
    </table>
</main>
<script>
const $ = (id) => document.getElementById(id);
let recording = false;

async function post(url, method) {
    const res = await fetch(url, {method: method || "POST"});
    if (!res.ok) {
        const body = await res.json().catch(() => ({}));
        console.warn(body.error || res.statusText);
    }
}

$("record").onclick = () => post(recording ? "/record/stop" : "/record/start");

function render(snap) {
    const st = snap.status;
    recording = st.state === "recording";
    $("state").textContent = st.state;
    $("timer").textContent = recording ? st.elapsed_human : "";
    $("codec").textContent = st.codec;
    $("record").textContent = recording ? "Stop recording" : "Start recording";
    $("record").disabled = !st.supported;

    const banner = $("banner");
    banner.hidden = !st.banner;
    banner.textContent = st.banner ? st.banner.message : "";

    const list = $("list");
    list.innerHTML = "";
    for (const rec of snap.recordings || []) {
        const tr = document.createElement("tr");
        const label = rec.playing ? "Pause" : "Play";
        const progress = rec.active ? " (" + Math.round(rec.progress) + "%)" : "";
        tr.innerHTML = "<td></td><td>" + rec.duration_human + progress + "</td><td>" + rec.created_human +
            "</td><td>" + rec.size_human + "</td><td></td>";
        tr.children[0].textContent = rec.name;
        const actions = tr.children[4];
        const play = document.createElement("button");
        play.textContent = label;
        play.onclick = () => post("/api/recordings/toggle/" + rec.id);
        const dl = document.createElement("a");
        dl.href = rec.download_url;
        dl.textContent = "Download";
        const del = document.createElement("button");
        del.textContent = "Delete";
        del.onclick = () => post("/api/recordings/delete/" + rec.id, "DELETE");
        actions.append(play, " ", dl, " ", del);
        list.appendChild(tr);
    }
}

function connect() {
    const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
    ws.onmessage = (ev) => render(JSON.parse(ev.data));
    ws.onclose = () => setTimeout(connect, 2000);
}
connect();
</script>
</body>
</html>`
