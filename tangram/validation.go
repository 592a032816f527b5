package tangram

import (
	"sort"
	"time"
)

// groupBookkeeping is the per-group mutable state the engine carries across
// frames: sticky bindings, locked validations, consumed targets, attempt
// counters, and the validated correspondences feeding refinement.
type groupBookkeeping struct {
	id        string
	signature string
	bindings  map[string]string            // piece id -> target id (candidate or locked)
	locks     map[string]*LockedValidation // piece id -> hysteresis record
	consumed  map[string]string            // target id -> piece id holding it
	attempts  map[string]int               // piece id -> failed attempts
	pairs     []CorrespondencePair         // locked piece/target correspondences
}

func newGroupBookkeeping(id string) *groupBookkeeping {
	return &groupBookkeeping{
		id:       id,
		bindings: make(map[string]string),
		locks:    make(map[string]*LockedValidation),
		consumed: make(map[string]string),
		attempts: make(map[string]int),
	}
}

// dropPiece forgets one piece entirely: binding, lock, attempts, consumed
// target, refinement pair.
func (g *groupBookkeeping) dropPiece(pieceID string) {
	if target, ok := g.bindings[pieceID]; ok {
		if g.consumed[target] == pieceID {
			delete(g.consumed, target)
		}
	}
	delete(g.bindings, pieceID)
	delete(g.locks, pieceID)
	delete(g.attempts, pieceID)

	kept := g.pairs[:0]
	for _, p := range g.pairs {
		if p.PieceID != pieceID {
			kept = append(kept, p)
		}
	}
	g.pairs = kept
}

// dropDeparted removes bookkeeping for pieces no longer in the member set.
func (g *groupBookkeeping) dropDeparted(members []string) {
	present := make(map[string]bool, len(members))
	for _, id := range members {
		present[id] = true
	}
	for pieceID := range g.bindings {
		if !present[pieceID] {
			g.dropPiece(pieceID)
		}
	}
	for pieceID := range g.attempts {
		if !present[pieceID] {
			delete(g.attempts, pieceID)
		}
	}
}

// upsertPair records or refreshes the validated correspondence for a piece.
func (g *groupBookkeeping) upsertPair(pair CorrespondencePair) {
	for i := range g.pairs {
		if g.pairs[i].PieceID == pair.PieceID {
			g.pairs[i] = pair
			return
		}
	}
	g.pairs = append(g.pairs, pair)
}

// Engine is the frame-driven validation core. It owns the mapping service
// and all cross-frame bookkeeping. Single-threaded by contract: every call
// must come from the one goroutine driving the frame loop, and no internal
// locking is provided.
type Engine struct {
	cfg     EngineConfig
	puzzle  *GamePuzzleData
	mapping *MappingService
	pairLib []TargetPairRelation

	groups map[string]*groupBookkeeping

	lastResult    *ValidationResult
	lastFullCheck time.Time
	lastNudgeAt   time.Time

	// Clock supplies the engine's notion of now for dwell and cooldown
	// decisions when a frame carries no timestamp. Tests override it.
	Clock func() time.Time
}

// NewEngine creates a validation engine for one puzzle.
func NewEngine(puzzle *GamePuzzleData, cfg EngineConfig) *Engine {
	return &Engine{
		cfg:     cfg,
		puzzle:  puzzle,
		mapping: NewMappingService(cfg.Mapping),
		pairLib: BuildTargetPairLibrary(puzzle.Targets),
		groups:  make(map[string]*groupBookkeeping),
		Clock:   time.Now,
	}
}

// Puzzle returns the engine's immutable puzzle definition.
func (e *Engine) Puzzle() *GamePuzzleData { return e.puzzle }

// Result returns the last computed validation result, or nil before the
// first frame.
func (e *Engine) Result() *ValidationResult { return e.lastResult }

// GroupMapping returns the live mapping for a group, or nil.
func (e *Engine) GroupMapping(groupID string) *AnchorMapping {
	return e.mapping.Mapping(groupID)
}

// ConsumedTargets returns the sorted target ids currently consumed within a
// group.
func (e *Engine) ConsumedTargets(groupID string) []string {
	g, ok := e.groups[groupID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(g.consumed))
	for id := range g.consumed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// InvalidateGroup forgets a group completely: mapping and bookkeeping.
// Callers invoke it when the group manager reports the group dissolved.
func (e *Engine) InvalidateGroup(groupID string) {
	e.mapping.InvalidateGroup(groupID)
	delete(e.groups, groupID)
}

// UnmarkTargetConsumed frees one consumed target, dropping any lock and
// binding that held it. The UI layer calls this when a validated piece is
// physically removed from the scene.
func (e *Engine) UnmarkTargetConsumed(groupID, targetID string) {
	g, ok := e.groups[groupID]
	if !ok {
		return
	}
	pieceID, held := g.consumed[targetID]
	if !held {
		return
	}
	delete(g.consumed, targetID)
	delete(g.locks, pieceID)
	delete(g.bindings, pieceID)

	kept := g.pairs[:0]
	for _, p := range g.pairs {
		if p.TargetID != targetID {
			kept = append(kept, p)
		}
	}
	g.pairs = kept
}

// RemovePair forgets one piece's binding, lock, attempts, and consumed
// target within a group.
func (e *Engine) RemovePair(groupID, pieceID string) {
	if g, ok := e.groups[groupID]; ok {
		g.dropPiece(pieceID)
	}
}

// Reset returns the engine to its initial state: all mappings, bindings,
// locks, and pacing timers are dropped. The puzzle stays loaded.
func (e *Engine) Reset() {
	for id := range e.groups {
		e.mapping.InvalidateGroup(id)
	}
	e.groups = make(map[string]*groupBookkeeping)
	e.lastResult = nil
	e.lastFullCheck = time.Time{}
	e.lastNudgeAt = time.Time{}
}

func (e *Engine) group(groupID string) *groupBookkeeping {
	g, ok := e.groups[groupID]
	if !ok {
		g = newGroupBookkeeping(groupID)
		e.groups[groupID] = g
	}
	return g
}

// ProcessFrame runs one validation pass: reconcile group membership, ensure
// mappings, walk every settled piece through the binding state machine, and
// assemble the frame's ValidationResult. Exactly one call per frame; the
// result is also retained for Result().
func (e *Engine) ProcessFrame(frame Frame) *ValidationResult {
	now := frame.Timestamp
	if now.IsZero() {
		now = e.Clock()
	}

	groups := frame.Groups
	if groups == nil {
		groups = GroupObservations(frame.Observations, e.cfg.GroupDist)
	}

	// Attempt counters advance on full passes only, paced by the dwell
	// interval, so a fast frame rate does not inflate them.
	fullPass := e.lastFullCheck.IsZero() || now.Sub(e.lastFullCheck) >= e.cfg.Validation.DwellInterval
	if fullPass {
		e.lastFullCheck = now
	}

	result := NewValidationResult(now)

	groupIDs := make([]string, 0, len(groups))
	for id := range groups {
		groupIDs = append(groupIDs, id)
	}
	sort.Strings(groupIDs)

	for _, groupID := range groupIDs {
		e.processGroup(result, &frame, groupID, groups[groupID], now, fullPass)
	}

	e.attachNudges(result, now)

	e.lastResult = result
	return result
}

// processGroup reconciles one group and validates its member pieces.
func (e *Engine) processGroup(result *ValidationResult, frame *Frame, groupID string, members []string, now time.Time, fullPass bool) {
	g := e.group(groupID)

	sig := MembershipSignature(members)
	if g.signature != "" && g.signature != sig {
		e.mapping.InvalidateGroup(groupID)
		g.dropDeparted(members)
	}
	g.signature = sig

	sorted := make([]string, len(members))
	copy(sorted, members)
	sort.Strings(sorted)

	memberObs := make([]PieceObservation, 0, len(sorted))
	for _, id := range sorted {
		if o := frame.ObservationByID(id); o != nil {
			memberObs = append(memberObs, *o)
		}
	}
	if len(memberObs) == 0 {
		return
	}

	m := e.ensureMapping(groupID, members, memberObs, frame)
	if m != nil {
		result.GroupMappings[groupID] = m
		if m.AnchorPieceID != "" {
			result.AnchorPieceIDs[m.AnchorPieceID] = true
		}
	}

	for i := range memberObs {
		e.processPiece(result, g, m, memberObs[i], now, fullPass)
	}
}

// ensureMapping establishes a mapping for the group if none is live:
// the optimized global path for two or more pieces (with the two-point
// pairing seed as fallback), the single-anchor path for a lone piece.
func (e *Engine) ensureMapping(groupID string, members []string, memberObs []PieceObservation, frame *Frame) *AnchorMapping {
	if len(memberObs) >= 2 {
		m := e.mapping.EstablishOrUpdateMappingOptimized(groupID, memberObs, e.puzzle.Targets)
		if m != nil {
			return m
		}
		a, b := SelectWellConditionedPair(memberObs, e.cfg.Pairing)
		if a == nil || b == nil {
			return nil
		}
		taID, tbID, ok := MatchTargetPair(*a, *b, e.pairLib, nil, e.cfg.Pairing)
		if !ok {
			return nil
		}
		ta := e.puzzle.TargetByID(taID)
		tb := e.puzzle.TargetByID(tbID)
		if ta == nil || tb == nil {
			return nil
		}
		return e.mapping.SolvePairMapping(groupID, members, *a, *b, *ta, *tb)
	}

	if m := e.mapping.Mapping(groupID); m != nil {
		return m
	}

	anchor := memberObs[0]
	g := e.group(groupID)
	candidates := make([]TargetCandidate, 0, len(e.puzzle.Targets))
	for _, t := range e.puzzle.Targets {
		// A target the anchor itself holds stays eligible, so a locked piece
		// can re-anchor after its mapping was invalidated.
		if holder, taken := g.consumed[t.ID]; taken && holder != anchor.ID {
			continue
		}
		candidates = append(candidates, TargetCandidate{
			TargetID:  t.ID,
			Type:      t.Type,
			Position:  t.Position(),
			Rotation:  t.Rotation(),
			IsFlipped: t.IsFlipped(),
		})
	}

	neighborCount := 0
	for i := range frame.Observations {
		o := &frame.Observations[i]
		if o.ID == anchor.ID {
			continue
		}
		if Distance(o.Position, anchor.Position) <= e.cfg.Mapping.EdgeContactDist {
			neighborCount++
		}
	}

	return e.mapping.EstablishOrUpdateMapping(groupID, members, &AnchorCandidate{
		PieceID:   anchor.ID,
		Type:      anchor.Type,
		Position:  anchor.Position,
		Rotation:  anchor.Rotation,
		IsFlipped: anchor.IsFlipped,
	}, candidates, EstablishOptions{
		MaxFeatureAngleDelta: DegToRad(e.cfg.Mapping.MaxFeatureAngleDeltaDeg),
		RequireEdgeContact:   e.cfg.Mapping.RequireEdgeContact,
		NeighborCount:        neighborCount,
	})
}

// processPiece advances one observation through the binding state machine.
func (e *Engine) processPiece(result *ValidationResult, g *groupBookkeeping, m *AnchorMapping, o PieceObservation, now time.Time, fullPass bool) {
	mapped := MapObservation(m, o)
	state := PieceValidationState{MappedPose: mapped}
	if m != nil {
		state.Confidence = m.Confidence
	}

	moving := o.Speed() > e.cfg.Validation.SettleVelocity
	boundTarget, bound := g.bindings[o.ID]

	// A piece still in motion keeps its prior state: no re-binding, no
	// attempt accrual, no failure attribution.
	if moving {
		if bound {
			result.Bindings[o.ID] = boundTarget
			state.TargetID = boundTarget
			if _, locked := g.locks[o.ID]; locked {
				state.Valid = true
				result.ValidatedTargets[boundTarget] = true
			}
		}
		result.PieceStates[o.ID] = state
		return
	}

	if m == nil {
		result.PieceStates[o.ID] = state
		return
	}

	tol := e.cfg.Validation.Tolerance()

	// Sticky binding: re-check the assigned target first.
	if bound {
		if holder, taken := g.consumed[boundTarget]; taken && holder != o.ID {
			// Another piece claimed it while this one was regressed.
			delete(g.bindings, o.ID)
			bound = false
		}
	}
	if bound {
		target := e.puzzle.TargetByID(boundTarget)
		if target == nil {
			delete(g.bindings, o.ID)
			bound = false
		} else {
			lock, locked := g.locks[o.ID]
			checkTol := tol
			if locked {
				checkTol = e.cfg.Validation.LockedTolerance(*lock)
			}
			ok, failure := ValidateMappedDetailed(m, o, *target, checkTol)
			if ok {
				e.recordValid(result, g, o, *target, now, locked)
				result.PieceStates[o.ID] = e.validState(state, *target)
				return
			}
			if locked {
				// Regression: locked-valid -> candidate-bound. The lock and
				// the consumed target are released; the binding stays sticky.
				delete(g.locks, o.ID)
				if g.consumed[boundTarget] == o.ID {
					delete(g.consumed, boundTarget)
				}
				e.removePairFor(g, o.ID)
			}
			// Fall through to the search; a better target may validate. If
			// none does, the sticky target's failure is reported.
			if found := e.searchAndBind(result, g, m, o, now); found {
				return
			}
			e.recordFailure(result, g, o, *target, failure, mapped, tol, fullPass)
			state.TargetID = boundTarget
			result.PieceStates[o.ID] = state
			result.Bindings[o.ID] = boundTarget
			return
		}
	}

	// Unbound: search unconsumed assignable targets nearest-first.
	if found := e.searchAndBind(result, g, m, o, now); found {
		return
	}

	// Nothing validated. Attribute the failure to the nearest assignable
	// unconsumed target for actionable feedback.
	if nearest := e.nearestCandidate(g, o, mapped); nearest != nil {
		_, failure := ValidateMappedDetailed(m, o, *nearest, tol)
		e.recordFailure(result, g, o, *nearest, failure, mapped, tol, fullPass)
	} else {
		result.Failures[o.ID] = ValidationFailure{Kind: FailureWrongPiece}
		if fullPass {
			g.attempts[o.ID]++
		}
	}
	result.PieceStates[o.ID] = state
}

// searchAndBind scans unconsumed assignable targets nearest-first and binds
// the piece to the first one that validates. Returns true when bound.
func (e *Engine) searchAndBind(result *ValidationResult, g *groupBookkeeping, m *AnchorMapping, o PieceObservation, now time.Time) bool {
	mapped := MapObservation(m, o)
	tol := e.cfg.Validation.Tolerance()

	type candidate struct {
		target *TargetPiece
		dist   float64
	}
	candidates := make([]candidate, 0, len(e.puzzle.Targets))
	for i := range e.puzzle.Targets {
		t := &e.puzzle.Targets[i]
		if !TypesAssignable(o.Type, t.Type) {
			continue
		}
		if holder, taken := g.consumed[t.ID]; taken && holder != o.ID {
			continue
		}
		candidates = append(candidates, candidate{t, Distance(mapped.Position, t.Position())})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].target.ID < candidates[j].target.ID
	})

	for _, c := range candidates {
		if ok, _ := ValidateMappedDetailed(m, o, *c.target, tol); ok {
			g.bindings[o.ID] = c.target.ID
			e.recordValid(result, g, o, *c.target, now, false)
			result.PieceStates[o.ID] = e.validState(PieceValidationState{
				MappedPose: mapped,
				Confidence: m.Confidence,
			}, *c.target)
			return true
		}
	}
	return false
}

// nearestCandidate returns the closest unconsumed assignable target for
// failure attribution, or nil.
func (e *Engine) nearestCandidate(g *groupBookkeeping, o PieceObservation, mapped MappedPose) *TargetPiece {
	var best *TargetPiece
	bestDist := 0.0
	for i := range e.puzzle.Targets {
		t := &e.puzzle.Targets[i]
		if !TypesAssignable(o.Type, t.Type) {
			continue
		}
		if holder, taken := g.consumed[t.ID]; taken && holder != o.ID {
			continue
		}
		d := Distance(mapped.Position, t.Position())
		if best == nil || d < bestDist {
			best = t
			bestDist = d
		}
	}
	return best
}

// recordValid locks the piece on its target, consumes the target, refreshes
// the refinement pair set, and triggers a global refinement once two or
// more locked correspondences exist.
func (e *Engine) recordValid(result *ValidationResult, g *groupBookkeeping, o PieceObservation, target TargetPiece, now time.Time, wasLocked bool) {
	g.bindings[o.ID] = target.ID
	g.consumed[target.ID] = o.ID
	delete(g.attempts, o.ID)

	lock := g.locks[o.ID]
	if lock == nil {
		lock = &LockedValidation{PieceID: o.ID, TargetID: target.ID, LockedAt: now}
		g.locks[o.ID] = lock
	}
	lock.TargetID = target.ID
	lock.ValidPosition = o.Position
	lock.ValidRotation = o.Rotation

	g.upsertPair(CorrespondencePair{
		PieceID:  o.ID,
		TargetID: target.ID,
		Source:   o.Position,
		Target:   target.Position(),
	})
	if !wasLocked && len(g.pairs) >= 2 {
		e.refineGroup(result, g)
	}

	result.ValidatedTargets[target.ID] = true
	result.Bindings[o.ID] = target.ID
}

// refineGroup re-fits the group mapping from its locked correspondences.
func (e *Engine) refineGroup(result *ValidationResult, g *groupBookkeeping) {
	refined := e.mapping.RefineMapping(g.id, g.pairs)
	if refined == nil {
		return
	}
	result.GroupMappings[g.id] = refined
	if refined.AnchorPieceID != "" {
		result.AnchorPieceIDs[refined.AnchorPieceID] = true
	}
}

// recordFailure stores the piece's failure, advances its attempt counter on
// full passes, and flags oriented-only (50%-credit) placements.
func (e *Engine) recordFailure(result *ValidationResult, g *groupBookkeeping, o PieceObservation, target TargetPiece, failure *ValidationFailure, mapped MappedPose, tol Tolerance, fullPass bool) {
	if failure == nil {
		return
	}
	result.Failures[o.ID] = *failure
	if fullPass {
		g.attempts[o.ID]++
	}

	// Oriented-only credit: rotation and flip already right, only the
	// position is off.
	if failure.Kind == FailureWrongPosition {
		rotDist := FeatureAngleDistance(mapped.Rotation, mapped.IsFlipped, target.Rotation(), target.IsFlipped(), target.Type)
		if RadToDeg(rotDist) <= tol.RotationDeg {
			result.OrientedOnlyTargets[target.ID] = true
		}
	}
}

func (e *Engine) validState(state PieceValidationState, target TargetPiece) PieceValidationState {
	state.Valid = true
	state.TargetID = target.ID
	return state
}

// removePairFor drops the refinement correspondence contributed by a piece.
func (e *Engine) removePairFor(g *groupBookkeeping, pieceID string) {
	kept := g.pairs[:0]
	for _, p := range g.pairs {
		if p.PieceID != pieceID {
			kept = append(kept, p)
		}
	}
	g.pairs = kept
}

// attachNudges selects the most persistent failing piece and synthesizes
// guidance, honoring the global cooldown.
func (e *Engine) attachNudges(result *ValidationResult, now time.Time) {
	type failing struct {
		pieceID  string
		attempts int
	}
	var eligible []failing
	for _, g := range e.groups {
		for pieceID, n := range g.attempts {
			if n < e.cfg.Nudge.MinAttempts {
				continue
			}
			if _, stillFailing := result.Failures[pieceID]; !stillFailing {
				continue
			}
			eligible = append(eligible, failing{pieceID, n})
		}
	}
	if len(eligible) == 0 {
		return
	}

	// Most attempts first; ties stable by piece id.
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].attempts != eligible[j].attempts {
			return eligible[i].attempts > eligible[j].attempts
		}
		return eligible[i].pieceID < eligible[j].pieceID
	})

	groupHasValidated := len(result.ValidatedTargets) > 0

	for _, f := range eligible {
		failure := result.Failures[f.pieceID]
		confidence := 0.0
		if state, ok := result.PieceStates[f.pieceID]; ok {
			confidence = state.Confidence
		}
		targetID := result.Bindings[f.pieceID]
		level := NudgeLevelFor(confidence, f.attempts, groupHasValidated)
		result.PieceNudges[f.pieceID] = BuildNudge(level, f.pieceID, targetID, &failure)
	}

	if now.Sub(e.lastNudgeAt) < e.cfg.Nudge.Cooldown && !e.lastNudgeAt.IsZero() {
		return
	}
	primary := result.PieceNudges[eligible[0].pieceID]
	result.PrimaryNudge = &primary
	e.lastNudgeAt = now
}
