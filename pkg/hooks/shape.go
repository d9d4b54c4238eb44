package hooks

// Arg names one positional argument of a service method.
type Arg string

const (
	ArgID     Arg = "id"
	ArgData   Arg = "data"
	ArgParams Arg = "params"
)

// Shape is the ordered argument list of a method.
type Shape []Arg

var shapes = map[Method]Shape{
	Find:   {ArgParams},
	Get:    {ArgID, ArgParams},
	Create: {ArgData, ArgParams},
	Update: {ArgID, ArgData, ArgParams},
	Patch:  {ArgID, ArgData, ArgParams},
	Remove: {ArgID, ArgParams},
}

// ShapeFor returns the argument shape of method. Unknown methods take params only.
func ShapeFor(method Method) Shape {
	if s, ok := shapes[method]; ok {
		return s
	}
	return Shape{ArgParams}
}

// Arguments lays id, data and params out in shape order.
func (s Shape) Arguments(id, data interface{}, params Params) []interface{} {
	args := make([]interface{}, 0, len(s))
	for _, a := range s {
		switch a {
		case ArgID:
			args = append(args, id)
		case ArgData:
			args = append(args, data)
		case ArgParams:
			args = append(args, params)
		}
	}
	return args
}

// NewContext builds the invocation context of method from positional args
// laid out per ShapeFor(method).
func NewContext(method Method, phase Phase, args []interface{}) *Context {
	hc := &Context{Method: method, Type: phase, Arguments: args}
	for i, a := range ShapeFor(method) {
		if i >= len(args) {
			break
		}
		switch a {
		case ArgID:
			hc.ID = args[i]
		case ArgData:
			hc.Data = args[i]
		case ArgParams:
			if p, ok := args[i].(Params); ok {
				hc.Params = p
			}
		}
	}
	if hc.Params == nil {
		hc.Params = Params{}
	}
	return hc
}
