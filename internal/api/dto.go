package api

// EngineResponse describes the loaded engine and the bindings of the
// active profile.
type EngineResponse struct {
	Object             string         `json:"object"`
	Runtime            string         `json:"runtime"`
	Device             string         `json:"device"`
	Profiles           int            `json:"profiles"`
	Profile            int            `json:"profile"`
	BindingsPerProfile int            `json:"bindings_per_profile"`
	Inputs             []BindingEntry `json:"inputs"`
	Outputs            []BindingEntry `json:"outputs"`
}

type BindingEntry struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	DType string `json:"dtype"`
	Shape []int  `json:"shape"`
	Min   []int  `json:"min,omitempty"`
	Opt   []int  `json:"opt,omitempty"`
	Max   []int  `json:"max,omitempty"`
}

// InferRequest carries one tensor per input binding, keyed by name. A
// tensor without a shape takes the shape resolved at Point (default opt).
type InferRequest struct {
	Inputs map[string]Tensor `json:"inputs"`
	Point  string            `json:"point,omitempty"`
}

type Tensor struct {
	Shape []int     `json:"shape,omitempty"`
	Data  []float32 `json:"data"`
}

type InferResponse struct {
	ID        string            `json:"id"`
	Object    string            `json:"object"`
	CreatedAt int64             `json:"created_at"`
	Outputs   map[string]Tensor `json:"outputs"`
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
}
