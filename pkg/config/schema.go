package config

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/openfroyo/rancherhost/pkg/engine"
)

// settingsSchema constrains decoded Settings. Durations arrive as
// nanoseconds.
const settingsSchema = `
#Settings: {
	attribute_files: [...string & =~"\\.(ya?ml|json|toml|cue|star)$"]
	set: [...string & =~"^[^=]+="]
	run_list: [...string & !=""]
	root: string
	state_db: string
	keep_runs: int & >=0
	policies: [...string & !=""]
	download_retries: int & >=0 & <=10
	manage_ownership: bool
	log_level: "trace" | "debug" | "info" | "warn" | "error"
	trace_exporter: "none" | "stdout" | "otlp"
	otlp_endpoint: string
	metrics_textfile: string
	metrics_listen: string

	// At least 100ms.
	watch_debounce: int & >=100000000
}
`

// schema is compiled once; a cue.Context is not safe for concurrent use.
type schema struct {
	mu    sync.Mutex
	ctx   *cue.Context
	value cue.Value
}

var (
	schemaOnce sync.Once
	compiled   *schema
	schemaErr  error
)

func loadSchema() (*schema, error) {
	schemaOnce.Do(func() {
		ctx := cuecontext.New()
		v := ctx.CompileString(settingsSchema, cue.Filename("settings.cue"))
		if err := v.Err(); err != nil {
			schemaErr = fmt.Errorf("failed to compile settings schema: %w", err)
			return
		}
		compiled = &schema{ctx: ctx, value: v.LookupPath(cue.ParsePath("#Settings"))}
	})
	return compiled, schemaErr
}

// Validate checks s against the settings schema.
func (s *Settings) Validate() error {
	sc, err := loadSchema()
	if err != nil {
		return engine.NewInternalError("settings schema", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	// nil slices encode as null, which no list constraint accepts.
	c := *s
	for _, list := range []*[]string{&c.AttributeFiles, &c.Overrides, &c.RunList, &c.Policies} {
		if *list == nil {
			*list = []string{}
		}
	}

	data := sc.ctx.Encode(c)
	if err := data.Err(); err != nil {
		return engine.NewConfigError("failed to encode settings", err)
	}
	if err := sc.value.Unify(data).Validate(cue.Concrete(true)); err != nil {
		return engine.NewConfigError("invalid settings: "+cueerrors.Details(err, nil), err)
	}
	return nil
}
