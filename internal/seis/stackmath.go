package seis

import (
	"math"
	"math/cmplx"

	"github.com/seisnoise/seisnoise/internal/config"
	"github.com/seisnoise/seisnoise/internal/errors"
	"github.com/seisnoise/seisnoise/internal/model"
)

// selectiveThreshold is the minimum correlation with the linear stack for a
// window to survive selective stacking.
const selectiveThreshold = 0.5

// robustIterations bounds the reweighting loop of the robust stack.
const robustIterations = 10

// pwsPower is the sharpness exponent of the phase-weighted stack.
const pwsPower = 2.0

// ReferenceStacker implements every StackMethod with plain folds over the
// window matrix. All methods are deterministic: the same input windows in
// the same order produce byte-identical output.
type ReferenceStacker struct{}

// NewReferenceStacker returns the built-in stacking collaborator.
func NewReferenceStacker() *ReferenceStacker {
	return &ReferenceStacker{}
}

// Stack implements Stacker. method must be a concrete method; expanding
// "all" is the orchestrator's job.
func (s *ReferenceStacker) Stack(method model.StackMethod, windows []model.CorrelationResult, cfg *config.Config) (model.StackResult, error) {
	if len(windows) == 0 {
		return model.StackResult{}, errors.Wrap(errors.ErrInsufficientSamples, "no windows to stack")
	}

	n := len(windows[0].Data)
	mat := make([][]float64, len(windows))
	for i, w := range windows {
		if len(w.Data) != n {
			return model.StackResult{}, errors.Wrapf(errors.ErrCompute,
				"window %s has %d points, want %d", w.Window, len(w.Data), n)
		}
		row := make([]float64, n)
		for j, v := range w.Data {
			row[j] = float64(v)
		}
		mat[i] = row
	}

	var stacked []float64
	switch method {
	case model.StackLinear:
		stacked = linearStack(mat)
	case model.StackPWS:
		stacked = phaseWeightedStack(mat)
	case model.StackRobust:
		stacked = robustStack(mat)
	case model.StackNRoot:
		stacked = nrootStack(mat, cfg.Stacking.NRoot)
	case model.StackSelective:
		stacked = selectiveStack(mat)
	case model.StackAutoCovariance:
		stacked = covarianceWeightedStack(mat)
	default:
		return model.StackResult{}, errors.Wrapf(errors.ErrCompute, "cannot stack with method %s", method)
	}

	out := make([]float32, n)
	for i, v := range stacked {
		out[i] = float32(v)
	}

	return model.StackResult{
		Pair:        windows[0].Pair,
		Method:      method,
		SampleRate:  windows[0].SampleRate,
		Data:        out,
		MaxLagSec:   windows[0].MaxLagSec,
		WindowCount: len(windows),
	}, nil
}

// linearStack is the plain mean.
func linearStack(mat [][]float64) []float64 {
	n := len(mat[0])
	out := make([]float64, n)
	for _, row := range mat {
		for j, v := range row {
			out[j] += v
		}
	}
	for j := range out {
		out[j] /= float64(len(mat))
	}
	return out
}

// phaseWeightedStack weights the linear stack by inter-window phase
// coherence (Schimmel & Paulssen). The analytic signal is computed with a
// direct DFT; adequate for correlation-length traces.
func phaseWeightedStack(mat [][]float64) []float64 {
	n := len(mat[0])
	coherence := make([]complex128, n)

	for _, row := range mat {
		analytic := hilbert(row)
		for j, a := range analytic {
			if m := cmplx.Abs(a); m > 0 {
				coherence[j] += a / complex(m, 0)
			}
		}
	}

	out := linearStack(mat)
	k := float64(len(mat))
	for j := range out {
		w := cmplx.Abs(coherence[j]) / k
		out[j] *= math.Pow(w, pwsPower)
	}
	return out
}

// robustStack iteratively down-weights windows that disagree with the
// running stack.
func robustStack(mat [][]float64) []float64 {
	stack := linearStack(mat)
	weights := make([]float64, len(mat))

	for iter := 0; iter < robustIterations; iter++ {
		var wsum float64
		for i, row := range mat {
			num := dot(row, stack)
			den := math.Sqrt(dot(row, row)) * math.Sqrt(dot(stack, stack))
			if den == 0 {
				weights[i] = 0
				continue
			}
			w := num / den
			if w < 0 {
				w = 0
			}
			weights[i] = w
			wsum += w
		}
		if wsum == 0 {
			return stack
		}

		next := make([]float64, len(stack))
		for i, row := range mat {
			for j, v := range row {
				next[j] += weights[i] * v
			}
		}
		for j := range next {
			next[j] /= wsum
		}

		if converged(stack, next) {
			return next
		}
		stack = next
	}
	return stack
}

// nrootStack averages the N-th roots of the windows, then raises the mean
// back to the N-th power preserving sign.
func nrootStack(mat [][]float64, nroot int) []float64 {
	if nroot < 1 {
		nroot = 1
	}
	n := len(mat[0])
	out := make([]float64, n)
	inv := 1.0 / float64(nroot)

	for _, row := range mat {
		for j, v := range row {
			out[j] += math.Copysign(math.Pow(math.Abs(v), inv), v)
		}
	}
	for j := range out {
		m := out[j] / float64(len(mat))
		out[j] = math.Copysign(math.Pow(math.Abs(m), float64(nroot)), m)
	}
	return out
}

// selectiveStack keeps only windows well correlated with the linear stack
// and re-stacks the survivors. Falls back to the linear stack when nothing
// survives the threshold.
func selectiveStack(mat [][]float64) []float64 {
	ref := linearStack(mat)

	var kept [][]float64
	for _, row := range mat {
		den := math.Sqrt(dot(row, row)) * math.Sqrt(dot(ref, ref))
		if den == 0 {
			continue
		}
		if dot(row, ref)/den >= selectiveThreshold {
			kept = append(kept, row)
		}
	}
	if len(kept) == 0 {
		return ref
	}
	return linearStack(kept)
}

// covarianceWeightedStack weights each window by its covariance with the
// linear stack.
func covarianceWeightedStack(mat [][]float64) []float64 {
	ref := linearStack(mat)
	n := len(ref)

	weights := make([]float64, len(mat))
	var wsum float64
	for i, row := range mat {
		w := dot(row, ref) / float64(n)
		if w < 0 {
			w = 0
		}
		weights[i] = w
		wsum += w
	}
	if wsum == 0 {
		return ref
	}

	out := make([]float64, n)
	for i, row := range mat {
		for j, v := range row {
			out[j] += weights[i] * v
		}
	}
	for j := range out {
		out[j] /= wsum
	}
	return out
}

// hilbert returns the analytic signal of x via a direct DFT. O(n^2), used
// only on correlation-length traces.
func hilbert(x []float64) []complex128 {
	n := len(x)
	spec := make([]complex128, n)
	for k := 0; k < n; k++ {
		var sum complex128
		for t := 0; t < n; t++ {
			angle := -2 * math.Pi * float64(k) * float64(t) / float64(n)
			sum += complex(x[t], 0) * cmplx.Exp(complex(0, angle))
		}
		spec[k] = sum
	}

	// Zero the negative frequencies, double the positive ones.
	for k := 1; k < (n+1)/2; k++ {
		spec[k] *= 2
	}
	for k := n/2 + 1; k < n; k++ {
		spec[k] = 0
	}

	out := make([]complex128, n)
	for t := 0; t < n; t++ {
		var sum complex128
		for k := 0; k < n; k++ {
			angle := 2 * math.Pi * float64(k) * float64(t) / float64(n)
			sum += spec[k] * cmplx.Exp(complex(0, angle))
		}
		out[t] = sum / complex(float64(n), 0)
	}
	return out
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func converged(a, b []float64) bool {
	var diff, norm float64
	for i := range a {
		d := a[i] - b[i]
		diff += d * d
		norm += a[i] * a[i]
	}
	if norm == 0 {
		return true
	}
	return diff/norm < 1e-10
}
