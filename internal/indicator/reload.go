package indicator

import (
	"log"

	"github.com/pkg/errors"

	"ta-enginev1/internal/model"
)

// ReloadSpecs swaps the engine's per-TF specs at runtime without losing
// accumulated warmup state. Instances that survive the change (matched by
// Type+Period within the same TF) keep their state; only genuinely new
// specs cold-start. Returns the number of preserved token sets and the
// number of TF entries that introduced new instances.
func (e *Engine) ReloadSpecs(newSpecs []TFSpec) (preserved, created int) {
	oldSpecByTF := make(map[int]TFSpec, len(e.specs))
	oldStateByTF := make(map[int]map[string]*instanceSet, len(e.specs))
	for i, s := range e.specs {
		oldSpecByTF[s.TF] = s
		oldStateByTF[s.TF] = e.state[i]
	}

	newState := make([]map[string]*instanceSet, len(newSpecs))
	for i, ns := range newSpecs {
		oldSpec, tfExists := oldSpecByTF[ns.TF]
		oldTFState := oldStateByTF[ns.TF]

		if !tfExists || oldTFState == nil {
			newState[i] = make(map[string]*instanceSet, 64)
			created++
			log.Printf("[reload] TF=%d: new timeframe, cold-starting", ns.TF)
			continue
		}

		if specSetsEqual(oldSpec.Specs, ns.Specs) {
			newState[i] = oldTFState
			preserved += len(oldTFState)
			log.Printf("[reload] TF=%d: unchanged, preserved %d token states", ns.TF, len(oldTFState))
			continue
		}

		migrated := make(map[string]*instanceSet, len(oldTFState))
		for key, oldSet := range oldTFState {
			migrated[key] = migrateSet(oldSet, ns.Specs)
			preserved++
		}
		newState[i] = migrated
		created++ // new instances in this TF need backfill
		log.Printf("[reload] TF=%d: migrated %d token states", ns.TF, len(migrated))
	}

	e.specs = newSpecs
	e.state = newState

	e.tfIndex = make(map[int]int, len(newSpecs))
	for i, s := range newSpecs {
		e.tfIndex[s.TF] = i
	}

	log.Printf("[reload] specs reloaded: %d TFs, %d preserved, %d new", len(newSpecs), preserved, created)
	return preserved, created
}

// migrateSet builds an instanceSet for newSpecs, carrying over any live
// instance whose Type+Period still appears. Everything else starts cold.
func migrateSet(old *instanceSet, newSpecs []MASpec) *instanceSet {
	oldByKey := make(map[string]streamIndicator, len(old.inds))
	for i, sp := range old.specs {
		oldByKey[sp.Type+":"+model.Itoa(sp.Period)] = old.inds[i]
	}

	set := &instanceSet{
		inds:  make([]streamIndicator, 0, len(newSpecs)),
		specs: make([]MASpec, 0, len(newSpecs)),
		names: make([]string, 0, len(newSpecs)),
	}
	for _, sp := range newSpecs {
		ind, ok := oldByKey[sp.Type+":"+model.Itoa(sp.Period)]
		if !ok {
			var err error
			ind, err = newInstance(sp.Type, sp.Period)
			if err != nil {
				log.Printf("[reload] dropping invalid spec %s:%d: %v", sp.Type, sp.Period, err)
				continue
			}
		}
		set.inds = append(set.inds, ind)
		set.specs = append(set.specs, sp)
		set.names = append(set.names, ind.String())
	}
	return set
}

// specSetsEqual reports whether two spec slices describe the same set of
// instances, ignoring order.
func specSetsEqual(a, b []MASpec) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]bool, len(a))
	for _, sp := range a {
		seen[sp.Type+":"+model.Itoa(sp.Period)] = true
	}
	for _, sp := range b {
		if !seen[sp.Type+":"+model.Itoa(sp.Period)] {
			return false
		}
	}
	return true
}

// ValidateSpecs rejects TF spec sets that NewEngine would silently
// mis-handle: non-positive or duplicate TFs, unknown indicator tags, and
// non-positive periods.
func ValidateSpecs(specs []TFSpec) error {
	seen := make(map[int]bool, len(specs))
	for _, s := range specs {
		if s.TF <= 0 {
			return errors.Errorf("invalid TF=%d: must be positive", s.TF)
		}
		if seen[s.TF] {
			return errors.Errorf("duplicate TF=%d", s.TF)
		}
		seen[s.TF] = true

		for _, sp := range s.Specs {
			switch sp.Type {
			case "SMA", "EMA", "RMA", "LWMA", "RSI":
			default:
				return errors.Errorf("unknown indicator type %q for TF=%d", sp.Type, s.TF)
			}
			if sp.Period < 1 {
				return errors.Errorf("invalid period=%d for %s on TF=%d", sp.Period, sp.Type, s.TF)
			}
		}
	}
	return nil
}
