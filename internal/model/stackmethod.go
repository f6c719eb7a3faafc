package model

import "fmt"

// StackMethod selects how per-window cross-correlations are combined into
// one summary correlation function.
type StackMethod int

const (
	// StackLinear is the plain mean of all windows.
	StackLinear StackMethod = iota

	// StackPWS is the phase-weighted stack: the linear stack weighted by
	// inter-window phase coherence.
	StackPWS

	// StackRobust down-weights outlier windows iteratively.
	StackRobust

	// StackNRoot is the N-th root stack.
	StackNRoot

	// StackSelective keeps only windows well correlated with the linear
	// stack, then re-stacks.
	StackSelective

	// StackAutoCovariance weights windows by their covariance with the
	// running stack.
	StackAutoCovariance

	// StackAll expands into every concrete method, persisting each result
	// under its own label.
	StackAll
)

// String returns the method name used on the CLI and in store labels.
func (m StackMethod) String() string {
	switch m {
	case StackLinear:
		return "linear"
	case StackPWS:
		return "pws"
	case StackRobust:
		return "robust"
	case StackNRoot:
		return "nroot"
	case StackSelective:
		return "selective"
	case StackAutoCovariance:
		return "auto_covariance"
	case StackAll:
		return "all"
	default:
		return fmt.Sprintf("unknown(%d)", m)
	}
}

// ParseStackMethod parses a method name.
func ParseStackMethod(s string) (StackMethod, error) {
	switch s {
	case "linear":
		return StackLinear, nil
	case "pws":
		return StackPWS, nil
	case "robust":
		return StackRobust, nil
	case "nroot":
		return StackNRoot, nil
	case "selective":
		return StackSelective, nil
	case "auto_covariance":
		return StackAutoCovariance, nil
	case "all":
		return StackAll, nil
	default:
		return StackLinear, fmt.Errorf("unknown stack method: %s", s)
	}
}

// ConcreteMethods returns every method except StackAll, in enum order.
func ConcreteMethods() []StackMethod {
	return []StackMethod{
		StackLinear,
		StackPWS,
		StackRobust,
		StackNRoot,
		StackSelective,
		StackAutoCovariance,
	}
}

// Expand resolves StackAll into the concrete method list; any other method
// expands to itself.
func (m StackMethod) Expand() []StackMethod {
	if m == StackAll {
		return ConcreteMethods()
	}
	return []StackMethod{m}
}
