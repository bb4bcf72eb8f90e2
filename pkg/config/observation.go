package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"

	"github.com/aeminvert/rjmcmc/pkg/forward"
)

// pointGeometryFields is the count of per-point transmitter/receiver
// geometry scalars preceding a point's sub-records in the observation
// file (tx height/roll/pitch/yaw, txrx dx/dy/dz, rx roll/pitch/yaw).
// They are recorded for completeness but not fed into forward.Model,
// whose contract takes only a geometry.Geometry and a conductivity
// column (§1 Non-goals: no per-sounding solver override).
const pointGeometryFields = 10

// ParseObservations reads the §6 observation-file format: a sequence
// of point records, each pointGeometryFields floats followed by an
// integer sub-record count R and R sub-records of the shape
// "direction_id N r_1 ... r_N". systems is the registered STM order;
// every point must carry exactly len(systems) sub-records, one per
// system in that order, with matching direction and window count.
//
// It returns the observed response, concatenated point-major then
// system-major (matching forward.Registry.EvalAll's per-sounding
// concatenation order), and the number of points read.
func ParseObservations(path string, systems []forward.System) (observed []float64, npoints int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("config: open observations %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 256*1024*1024)
	sc.Split(bufio.ScanWords)

	next := func() (string, bool) {
		if !sc.Scan() {
			return "", false
		}
		return sc.Text(), true
	}
	nextFloat := func() (float64, error) {
		tok, ok := next()
		if !ok {
			if err := sc.Err(); err != nil {
				return 0, err
			}
			return 0, fmt.Errorf("unexpected end of file")
		}
		return strconv.ParseFloat(tok, 64)
	}
	nextInt := func() (int, error) {
		tok, ok := next()
		if !ok {
			if err := sc.Err(); err != nil {
				return 0, err
			}
			return 0, fmt.Errorf("unexpected end of file")
		}
		return strconv.Atoi(tok)
	}

	for {
		firstTok, ok := next()
		if !ok {
			if err := sc.Err(); err != nil {
				return nil, 0, fmt.Errorf("config: observations %s: %w", path, err)
			}
			break // clean EOF between points
		}
		first, err := strconv.ParseFloat(firstTok, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("config: observations %s: point %d: geometry field 0: %w", path, npoints, err)
		}
		geom := make([]float64, pointGeometryFields)
		geom[0] = first
		for i := 1; i < pointGeometryFields; i++ {
			v, err := nextFloat()
			if err != nil {
				return nil, 0, fmt.Errorf("config: observations %s: point %d: geometry field %d: %w", path, npoints, i, err)
			}
			geom[i] = v
		}

		r, err := nextInt()
		if err != nil {
			return nil, 0, fmt.Errorf("config: observations %s: point %d: sub-record count: %w", path, npoints, err)
		}
		if r != len(systems) {
			return nil, 0, fmt.Errorf("config: observations %s: point %d: has %d sub-records, expected %d (one per registered system)", path, npoints, r, len(systems))
		}

		for i, sys := range systems {
			dirID, err := nextInt()
			if err != nil {
				return nil, 0, fmt.Errorf("config: observations %s: point %d: sub-record %d direction: %w", path, npoints, i, err)
			}
			if forward.Direction(dirID) != sys.Direction {
				return nil, 0, fmt.Errorf("config: observations %s: point %d: sub-record %d direction %d does not match system %q direction %s", path, npoints, i, dirID, sys.Name, sys.Direction)
			}
			n, err := nextInt()
			if err != nil {
				return nil, 0, fmt.Errorf("config: observations %s: point %d: sub-record %d count: %w", path, npoints, i, err)
			}
			if n != len(sys.WindowTimes) {
				return nil, 0, fmt.Errorf("config: observations %s: point %d: sub-record %d has %d values, system %q expects %d", path, npoints, i, n, sys.Name, len(sys.WindowTimes))
			}
			for j := 0; j < n; j++ {
				v, err := nextFloat()
				if err != nil {
					return nil, 0, fmt.Errorf("config: observations %s: point %d: sub-record %d value %d: %w", path, npoints, i, j, err)
				}
				observed = append(observed, v)
			}
		}
		npoints++
	}

	if npoints == 0 {
		return nil, 0, fmt.Errorf("config: observations %s: no point records found", path)
	}
	return observed, npoints, nil
}

// BuildObservedTime repeats the concatenated gate-centre times of
// systems, in registration order, once per point, matching
// ParseObservations' point-major/system-major concatenation of the
// observed response.
func BuildObservedTime(systems []forward.System, npoints int) []float64 {
	template := make([]float64, 0)
	for _, sys := range systems {
		template = append(template, sys.WindowTimes...)
	}
	out := make([]float64, 0, len(template)*npoints)
	for p := 0; p < npoints; p++ {
		out = append(out, template...)
	}
	return out
}
