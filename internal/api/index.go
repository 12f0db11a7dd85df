package api

const indexHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  <title>flash-bot</title>
  <style>
    :root { --bg:#f8fafc; --card:#fff; --muted:#6b7280; --chip:#e5e7eb; }
    body{margin:0;background:var(--bg);font:14px/1.4 ui-sans-serif,system-ui,-apple-system,Segoe UI,Roboto,Ubuntu; color:#111827;}
    .wrap{max-width:880px;margin:24px auto;padding:0 16px;}
    .hdr{display:flex;align-items:flex-end;justify-content:space-between;margin-bottom:12px;}
    .state{font-size:12px;padding:2px 8px;border-radius:999px;background:#e5e7eb;color:#374151;}
    .state.on{background:#d1fae5;color:#065f46;}
    table{width:100%;border-collapse:collapse;background:var(--card);border-radius:16px;overflow:hidden;box-shadow:0 10px 30px rgba(0,0,0,.06);}
    th,td{padding:12px 14px;text-align:left;} tbody tr{border-top:1px solid #f3f4f6;}
    .sub{color:var(--muted);font-size:12px;margin:0;}
  </style>
</head>
<body>
<div class="wrap">
  <div class="hdr">
    <div>
      <h1 style="margin:0;font-size:22px;font-weight:600">flash-bot</h1>
      <p class="sub" id="mode"></p>
    </div>
    <div id="state" class="state">connecting</div>
  </div>
  <table><tbody id="rows"></tbody></table>
  <p class="sub" style="margin-top:8px">Ledger is in memory and resets on restart.</p>
</div>
<script>
  function usd(x){ return '$'+Number(x||0).toLocaleString(undefined,{maximumFractionDigits:2}); }
  function row(k,v){ return '<tr><th>'+k+'</th><td>'+v+'</td></tr>'; }
  function render(d){
    var st = document.getElementById('state');
    st.textContent = d.engineRunning ? 'running' : 'stopped';
    st.className = 'state' + (d.engineRunning ? ' on' : '');
    document.getElementById('mode').textContent = d.mode + ' / ' + d.strategy;
    var lt = d.lastTrade;
    document.getElementById('rows').innerHTML =
        row('Total PnL', usd(d.totalPnL))
      + row('Trades', d.totalTrades + ' (' + d.successfulTrades + ' ok, ' + d.failedTrades + ' failed)')
      + row('Gas spent', d.gasSpent + ' (' + usd(d.gasSpentUSD) + ')')
      + row('Recycled', usd(d.recycledToBackend))
      + row('Last trade', lt ? (lt.asset + ' ' + usd(lt.profit) + (lt.simulated ? ' (simulated)' : '') + ' at ' + new Date(lt.timestamp).toLocaleTimeString()) : '-');
  }
  function connect(){
    var ws = new WebSocket((location.protocol==='https:'?'wss://':'ws://') + location.host + '/ws/live');
    ws.onmessage = function(ev){ render(JSON.parse(ev.data)); };
    ws.onclose = function(){ document.getElementById('state').textContent = 'offline'; setTimeout(connect, 2000); };
  }
  connect();
</script>
</body>
</html>`
