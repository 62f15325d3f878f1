package arena

import (
	"crypto/rand"
	_ "embed"
	"fmt"
	"math/big"

	lua "github.com/yuin/gopher-lua"

	"github.com/arenaserver/battlearena/internal/id"
)

// defaultRules is the reference rule set (spec §4.4), used when the
// operator does not configure an external rule file (spec §6).
//
//go:embed rules.lua
var defaultRules string

// tickContext is the host-callback surface bound into the Lua `ctx`
// table for one init() or update() call. It is exclusive to the
// mediator's goroutine (spec §5: "the engine host is exclusive to the
// mediator context"), so it needs no locking.
type tickContext struct {
	turnOrder []id.ID
	aliveIDs  []id.ID
	ticksLeft int
	killed    []id.ID
}

// Host loads a scripted rule module once and exposes the two entry
// points spec §4.4 requires: init(players) and update(actions).
type Host struct {
	L *lua.LState
}

// NewHost loads script (the contents of a rule file) into a fresh Lua
// state. An empty script falls back to the embedded reference rules.
func NewHost(script string) (*Host, error) {
	if script == "" {
		script = defaultRules
	}

	L := lua.NewState()
	if err := L.DoString(script); err != nil {
		L.Close()
		return nil, fmt.Errorf("engine: load rule script: %w", err)
	}

	if L.GetGlobal("init").Type() != lua.LTFunction {
		L.Close()
		return nil, fmt.Errorf("engine: rule script does not define init()")
	}
	if L.GetGlobal("update").Type() != lua.LTFunction {
		L.Close()
		return nil, fmt.Errorf("engine: rule script does not define update()")
	}

	return &Host{L: L}, nil
}

func (h *Host) Close() {
	h.L.Close()
}

// Init seeds a fresh world for a just-frozen turn order.
func (h *Host) Init(turnOrder []id.ID) (World, error) {
	tc := &tickContext{turnOrder: turnOrder}

	ctxTable := h.newCtxTable(tc)
	playersTable := h.L.NewTable()
	for i, pid := range turnOrder {
		playersTable.RawSetInt(i+1, lua.LString(pid.String()))
	}

	fn := h.L.GetGlobal("init")
	if err := h.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, ctxTable, playersTable); err != nil {
		return World{}, fmt.Errorf("%w: %v", ErrEngineCrash, err)
	}
	ret := h.L.Get(-1)
	h.L.Pop(1)

	world, err := fromLuaWorld(ret)
	if err != nil {
		return World{}, fmt.Errorf("%w: %v", ErrEngineCrash, err)
	}
	return world, nil
}

// Update applies one tick's worth of actions in turn order and
// returns the resulting world plus the ids killed during this tick,
// in the order the script reported them.
func (h *Host) Update(world World, turnOrder, aliveIDs []id.ID, ticksLeft int, actions map[id.ID]Action) (World, []id.ID, error) {
	tc := &tickContext{turnOrder: turnOrder, aliveIDs: aliveIDs, ticksLeft: ticksLeft}

	ctxTable := h.newCtxTable(tc)
	worldTable := toLuaWorld(h.L, world, turnOrder)
	actionsTable := toLuaActions(h.L, actions)

	fn := h.L.GetGlobal("update")
	if err := h.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, ctxTable, worldTable, actionsTable); err != nil {
		return World{}, nil, fmt.Errorf("%w: %v", ErrEngineCrash, err)
	}
	ret := h.L.Get(-1)
	h.L.Pop(1)

	newWorld, err := fromLuaWorld(ret)
	if err != nil {
		return World{}, nil, fmt.Errorf("%w: %v", ErrEngineCrash, err)
	}
	return newWorld, tc.killed, nil
}

func (h *Host) newCtxTable(tc *tickContext) *lua.LTable {
	L := h.L
	t := L.NewTable()

	t.RawSetString("notify_killed", L.NewFunction(func(L *lua.LState) int {
		idStr := L.CheckString(1)
		pid, err := id.Parse(idStr)
		if err == nil {
			tc.killed = append(tc.killed, pid)
		}
		return 0
	}))

	t.RawSetString("get_turn_order", L.NewFunction(func(L *lua.LState) int {
		out := L.NewTable()
		for i, pid := range tc.turnOrder {
			out.RawSetInt(i+1, lua.LString(pid.String()))
		}
		L.Push(out)
		return 1
	}))

	t.RawSetString("get_alive_ids", L.NewFunction(func(L *lua.LState) int {
		out := L.NewTable()
		for i, pid := range tc.aliveIDs {
			out.RawSetInt(i+1, lua.LString(pid.String()))
		}
		L.Push(out)
		return 1
	}))

	t.RawSetString("get_ticks_left", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(tc.ticksLeft))
		return 1
	}))

	t.RawSetString("random", L.NewFunction(func(L *lua.LState) int {
		n := L.CheckInt(1)
		L.Push(lua.LNumber(hostRandom(n)))
		return 1
	}))

	return t
}

// hostRandom returns a uniformly distributed integer in [0, n), drawn
// from crypto/rand. It returns 0 when n <= 0.
func hostRandom(n int) int {
	if n <= 0 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

func toLuaActions(L *lua.LState, actions map[id.ID]Action) *lua.LTable {
	t := L.NewTable()
	for pid, a := range actions {
		at := L.NewTable()
		at.RawSetString("type", lua.LString(a.Kind))
		if a.Direction != "" {
			at.RawSetString("direction", lua.LString(a.Direction))
		}
		if a.Tag != "" {
			at.RawSetString("tag", lua.LString(a.Tag))
		}
		t.RawSetString(pid.String(), at)
	}
	return t
}

func toLuaWorld(L *lua.LState, w World, order []id.ID) *lua.LTable {
	wt := L.NewTable()

	pf := L.NewTable()
	for r, row := range w.Playfield {
		rt := L.NewTable()
		for c, tile := range row {
			rt.RawSetInt(c+1, lua.LNumber(tile))
		}
		pf.RawSetInt(r+1, rt)
	}
	wt.RawSetString("playfield", pf)

	players := L.NewTable()
	seen := make(map[id.ID]bool, len(w.Players))
	emit := func(pid id.ID) {
		p, ok := w.Players[pid]
		if !ok || seen[pid] {
			return
		}
		seen[pid] = true
		players.RawSetString(pid.String(), playerToLua(L, p))
	}
	for _, pid := range order {
		emit(pid)
	}
	for pid := range w.Players {
		emit(pid)
	}
	wt.RawSetString("players", players)

	weapons := L.NewTable()
	for i, gw := range w.Weapons {
		weapons.RawSetInt(i+1, weaponToLua(L, gw.Weapon, gw.Row, gw.Col, true))
	}
	wt.RawSetString("weapons", weapons)

	return wt
}

func playerToLua(L *lua.LState, p PlayerWorldState) *lua.LTable {
	pt := L.NewTable()
	pt.RawSetString("row", lua.LNumber(p.Row))
	pt.RawSetString("col", lua.LNumber(p.Col))
	pt.RawSetString("health", lua.LNumber(p.Health))
	if p.Weapon != nil {
		pt.RawSetString("weapon", weaponToLua(L, *p.Weapon, 0, 0, false))
	}
	return pt
}

func weaponToLua(L *lua.LState, w Weapon, row, col int, positioned bool) *lua.LTable {
	wt := L.NewTable()
	wt.RawSetString("kind", lua.LString(w.Kind))
	wt.RawSetString("ammo", lua.LNumber(w.Ammo))
	wt.RawSetString("damage", lua.LNumber(w.Damage))
	if positioned {
		wt.RawSetString("row", lua.LNumber(row))
		wt.RawSetString("col", lua.LNumber(col))
	}
	return wt
}

func fromLuaWorld(lv lua.LValue) (World, error) {
	wt, ok := lv.(*lua.LTable)
	if !ok {
		return World{}, fmt.Errorf("rule script returned %s, want table", lv.Type())
	}

	pfv := wt.RawGetString("playfield")
	pft, ok := pfv.(*lua.LTable)
	if !ok {
		return World{}, fmt.Errorf("world.playfield: want table, got %s", pfv.Type())
	}
	var playfield Playfield
	rows := pft.Len()
	for r := 1; r <= rows; r++ {
		rowv := pft.RawGetInt(r)
		rowt, ok := rowv.(*lua.LTable)
		if !ok {
			return World{}, fmt.Errorf("world.playfield[%d]: want table, got %s", r, rowv.Type())
		}
		cols := rowt.Len()
		row := make([]Tile, cols)
		for c := 1; c <= cols; c++ {
			n, ok := rowt.RawGetInt(c).(lua.LNumber)
			if !ok {
				return World{}, fmt.Errorf("world.playfield[%d][%d]: want number", r, c)
			}
			row[c-1] = Tile(n)
		}
		playfield = append(playfield, row)
	}

	playersv := wt.RawGetString("players")
	playerst, ok := playersv.(*lua.LTable)
	if !ok {
		return World{}, fmt.Errorf("world.players: want table, got %s", playersv.Type())
	}
	players := make(map[id.ID]PlayerWorldState)
	var rangeErr error
	playerst.ForEach(func(k, v lua.LValue) {
		if rangeErr != nil {
			return
		}
		pid, err := id.Parse(k.String())
		if err != nil {
			rangeErr = fmt.Errorf("world.players key %q: %w", k.String(), err)
			return
		}
		p, err := playerFromLua(v)
		if err != nil {
			rangeErr = err
			return
		}
		players[pid] = p
	})
	if rangeErr != nil {
		return World{}, rangeErr
	}

	weaponsv := wt.RawGetString("weapons")
	var weapons []GroundWeapon
	if weaponst, ok := weaponsv.(*lua.LTable); ok {
		n := weaponst.Len()
		for i := 1; i <= n; i++ {
			gw, err := groundWeaponFromLua(weaponst.RawGetInt(i))
			if err != nil {
				return World{}, err
			}
			weapons = append(weapons, gw)
		}
	}

	return World{Playfield: playfield, Players: players, Weapons: weapons}, nil
}

func playerFromLua(v lua.LValue) (PlayerWorldState, error) {
	pt, ok := v.(*lua.LTable)
	if !ok {
		return PlayerWorldState{}, fmt.Errorf("player entry: want table, got %s", v.Type())
	}
	row, err := luaInt(pt.RawGetString("row"))
	if err != nil {
		return PlayerWorldState{}, fmt.Errorf("player.row: %w", err)
	}
	col, err := luaInt(pt.RawGetString("col"))
	if err != nil {
		return PlayerWorldState{}, fmt.Errorf("player.col: %w", err)
	}
	health, err := luaInt(pt.RawGetString("health"))
	if err != nil {
		return PlayerWorldState{}, fmt.Errorf("player.health: %w", err)
	}
	p := PlayerWorldState{Row: row, Col: col, Health: health}
	if wv := pt.RawGetString("weapon"); wv.Type() == lua.LTTable {
		w, err := weaponFromLua(wv)
		if err != nil {
			return PlayerWorldState{}, err
		}
		p.Weapon = &w
	}
	return p, nil
}

func weaponFromLua(v lua.LValue) (Weapon, error) {
	wt, ok := v.(*lua.LTable)
	if !ok {
		return Weapon{}, fmt.Errorf("weapon entry: want table, got %s", v.Type())
	}
	kind, ok := wt.RawGetString("kind").(lua.LString)
	if !ok {
		return Weapon{}, fmt.Errorf("weapon.kind: want string")
	}
	ammo, err := luaInt(wt.RawGetString("ammo"))
	if err != nil {
		return Weapon{}, fmt.Errorf("weapon.ammo: %w", err)
	}
	damage, err := luaInt(wt.RawGetString("damage"))
	if err != nil {
		return Weapon{}, fmt.Errorf("weapon.damage: %w", err)
	}
	return Weapon{Kind: string(kind), Ammo: ammo, Damage: damage}, nil
}

func groundWeaponFromLua(v lua.LValue) (GroundWeapon, error) {
	w, err := weaponFromLua(v)
	if err != nil {
		return GroundWeapon{}, err
	}
	wt := v.(*lua.LTable)
	row, err := luaInt(wt.RawGetString("row"))
	if err != nil {
		return GroundWeapon{}, fmt.Errorf("weapon.row: %w", err)
	}
	col, err := luaInt(wt.RawGetString("col"))
	if err != nil {
		return GroundWeapon{}, fmt.Errorf("weapon.col: %w", err)
	}
	return GroundWeapon{Weapon: w, Row: row, Col: col}, nil
}

func luaInt(v lua.LValue) (int, error) {
	n, ok := v.(lua.LNumber)
	if !ok {
		return 0, fmt.Errorf("want number, got %s", v.Type())
	}
	return int(n), nil
}
