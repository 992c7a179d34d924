package render

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// scriptTag opens every injected reconnect script. Pages that already
// contain it are left alone.
const scriptTag = "<script data-live-reload>"

// ReconnectScript returns the client snippet that subscribes to endpoint,
// reloads the page on any message and reconnects after retry once the
// browser has given up on the connection.
func ReconnectScript(endpoint string, retry time.Duration) string {
	return fmt.Sprintf(`%s
(function () {
  var es = null;
  function connect() {
    if (es !== null && es.readyState !== EventSource.CLOSED) {
      return;
    }
    es = new EventSource(%s);
    es.onmessage = function () {
      location.reload();
    };
    es.onerror = function () {
      if (es.readyState === EventSource.CLOSED) {
        setTimeout(connect, %d);
      }
    };
  }
  connect();
})();
</script>`, scriptTag, strconv.Quote(endpoint), retry.Milliseconds())
}

// Inject adds script to html exactly once. It goes before the last closing
// body tag when there is one and at the end otherwise.
func Inject(html, script string) string {
	if script == "" || strings.Contains(html, scriptTag) {
		return html
	}
	if idx := lastIndexFold(html, "</body>"); idx >= 0 {
		return html[:idx] + script + html[idx:]
	}
	return html + script
}

// lastIndexFold is strings.LastIndex for an ASCII needle, ignoring case.
func lastIndexFold(s, needle string) int {
	return strings.LastIndex(strings.ToLower(s), strings.ToLower(needle))
}
