// Package executor runs tasks as external processes described by HCL task
// definitions.
package executor

import (
	"errors"
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

var ErrUnknownTask = errors.New("no task definition")

// Task is one `task` block:
//
//	task "refmac" {
//	  command = "refmac5"
//	  args    = ["HKLIN", param.inputData.HKLIN, "XYZIN", param.inputData.XYZIN]
//	  env     = { CCP4_SCR = job.dir }
//	  output "XYZOUT" {
//	    path = "${job.dir}/XYZOUT.pdb"
//	  }
//	}
type Task struct {
	Name    string         `hcl:"name,label"`
	Command hcl.Expression `hcl:"command"`
	Args    hcl.Expression `hcl:"args,optional"`
	Env     hcl.Expression `hcl:"env,optional"`
	Outputs []*Output      `hcl:"output,block"`
}

// Output binds a produced file to an output parameter.
type Output struct {
	Param string         `hcl:"param,label"`
	Path  hcl.Expression `hcl:"path"`
}

type taskFile struct {
	Tasks  []*Task  `hcl:"task,block"`
	Remain hcl.Body `hcl:",remain"`
}

// Catalog holds task definitions by name.
type Catalog struct {
	tasks map[string]*Task
}

// Load parses an HCL task definition file.
func Load(path string) (*Catalog, error) {
	f, diags := hclparse.NewParser().ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse task file %s: %w", path, diags)
	}
	return decode(f.Body, path)
}

// Parse parses task definitions from src; filename is used in diagnostics.
func Parse(src []byte, filename string) (*Catalog, error) {
	f, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse task file %s: %w", filename, diags)
	}
	return decode(f.Body, filename)
}

func decode(body hcl.Body, filename string) (*Catalog, error) {
	var tf taskFile
	if diags := gohcl.DecodeBody(body, nil, &tf); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode task file %s: %w", filename, diags)
	}
	c := &Catalog{tasks: make(map[string]*Task, len(tf.Tasks))}
	for _, t := range tf.Tasks {
		if _, dup := c.tasks[t.Name]; dup {
			return nil, fmt.Errorf("%s: task %q defined twice", filename, t.Name)
		}
		c.tasks[t.Name] = t
	}
	return c, nil
}

// Lookup returns the definition of a task.
func (c *Catalog) Lookup(name string) (*Task, error) {
	t, ok := c.tasks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return t, nil
}

// Names returns the defined task names, sorted.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.tasks))
	for n := range c.tasks {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
