package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// storageDumpJS returns localStorage and sessionStorage as ordered entry
// lists. Access errors yield empty lists.
const storageDumpJS = `(function(){
  function dump(area){
    var out = [];
    try {
      for (var i = 0; i < area.length; i++) {
        var k = area.key(i);
        out.push({key: k, value: area.getItem(k)});
      }
    } catch (e) {}
    return out;
  }
  return JSON.stringify([dump(window.localStorage), dump(window.sessionStorage)]);
})()`

// CDPObserver watches a chromedp tab for bearer tokens on the page's own
// requests.
type CDPObserver struct {
	listener *Listener
}

// NewCDPObserver reports what it sees to l.
func NewCDPObserver(l *Listener) *CDPObserver {
	return &CDPObserver{listener: l}
}

// Observe enables network events on the tab behind tabCtx and reports
// Authorization bearer tokens until the tab closes.
func (o *CDPObserver) Observe(tabCtx context.Context) error {
	chromedp.ListenTarget(tabCtx, func(ev any) {
		e, ok := ev.(*network.EventRequestWillBeSent)
		if !ok || e.Request == nil {
			return
		}
		if tok, ok := authorizationBearer(e.Request.Headers); ok {
			go o.listener.Report(context.WithoutCancel(tabCtx), tok, SourceCDP)
		}
	})
	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		return fmt.Errorf("enable network events: %w", err)
	}
	return nil
}

// ScanStorage runs the storage heuristic against the tab's web storage.
func (o *CDPObserver) ScanStorage(tabCtx context.Context) error {
	var raw string
	if err := chromedp.Run(tabCtx, chromedp.Evaluate(storageDumpJS, &raw)); err != nil {
		return fmt.Errorf("read storage: %w", err)
	}
	var areas [2][]StorageEntry
	if err := json.Unmarshal([]byte(raw), &areas); err != nil {
		return fmt.Errorf("decode storage: %w", err)
	}
	if tok, ok := ScanStorage(areas[0], areas[1]); ok {
		o.listener.Report(tabCtx, tok, SourceStorage)
	}
	return nil
}

func authorizationBearer(h network.Headers) (string, bool) {
	for k, v := range h {
		if !strings.EqualFold(k, "authorization") {
			continue
		}
		if s, ok := v.(string); ok {
			return BearerValue(s)
		}
	}
	return "", false
}
