package bridge

import (
	"testing"

	"github.com/dop251/goja"

	"github.com/neboloop/pagerelay/internal/protocol"
)

func TestPageFetchScriptEmbedsInputsAsData(t *testing.T) {
	hostile := `/api"); throw new Error("injected"); ("`
	script, err := pageFetchScript(hostile, protocol.RequestInit{
		Method:      "POST",
		Headers:     map[string]string{"Content-Type": "application/json"},
		Body:        `{"q":"</script>"}`,
		Credentials: protocol.CredentialsInclude,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := goja.Compile("fetch.js", script, false); err != nil {
		t.Fatalf("script does not compile: %v", err)
	}

	vm := goja.New()
	var gotURL string
	var gotInit map[string]any
	vm.Set("fetch", func(call goja.FunctionCall) goja.Value {
		gotURL = call.Argument(0).String()
		gotInit, _ = call.Argument(1).Export().(map[string]any)
		panic(vm.NewTypeError("offline"))
	})
	if _, err := vm.RunString(script); err != nil {
		t.Fatalf("run: %v", err)
	}

	if gotURL != hostile {
		t.Errorf("url = %q", gotURL)
	}
	if gotInit["method"] != "POST" || gotInit["credentials"] != "include" || gotInit["body"] != `{"q":"</script>"}` {
		t.Errorf("init = %v", gotInit)
	}
	if _, ok := gotInit["mode"]; ok {
		t.Error("empty mode should be omitted")
	}
}
