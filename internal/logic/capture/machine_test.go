package capture

import (
	"reflect"
	"testing"

	"github.com/cjeanneret/camsession/internal/hw/camera"
	"github.com/cjeanneret/camsession/internal/hw/sensor"
)

func TestMachine_Start(t *testing.T) {
	tests := []struct {
		name      string
		autoFocus bool
		fastMode  bool
		wantState State
		wantAct   Action
	}{
		{"autofocus locks first", true, false, StateLocking, ActionTriggerAF},
		{"no autofocus captures", false, false, StateCapturing, ActionCapture},
		{"fast mode skips convergence", true, true, StateCapturing, ActionCapture},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine()
			if act := m.Start(tt.autoFocus, tt.fastMode); act != tt.wantAct {
				t.Errorf("Start() action = %v, want %v", act, tt.wantAct)
			}
			if m.State() != tt.wantState {
				t.Errorf("state = %v, want %v", m.State(), tt.wantState)
			}
		})
	}
}

func TestMachine_Converged_OneHop(t *testing.T) {
	m := NewMachine()
	m.Start(true, false)
	act := m.Advance(camera.Result{AF: sensor.AFFocusedLocked, AE: sensor.AEConverged})
	if act != ActionCapture {
		t.Fatalf("action = %v, want capture", act)
	}
	want := []State{StatePreview, StateLocking, StateCapturing}
	if got := m.History(); !reflect.DeepEqual(got, want) {
		t.Errorf("history = %v, want %v", got, want)
	}
}

func TestMachine_Sequences(t *testing.T) {
	tests := []struct {
		name    string
		results []camera.Result
		want    []State
		wantAct []Action
	}{
		{
			name: "no AE state counts as converged",
			results: []camera.Result{
				{AF: sensor.AFNotFocusedLocked, AE: sensor.AENone},
			},
			want:    []State{StatePreview, StateLocking, StateCapturing},
			wantAct: []Action{ActionCapture},
		},
		{
			name: "scanning keeps locking",
			results: []camera.Result{
				{AF: sensor.AFActiveScan, AE: sensor.AEConverged},
				{AF: sensor.AFInactive, AE: sensor.AEConverged},
				{AF: sensor.AFFocusedLocked, AE: sensor.AEConverged},
			},
			want:    []State{StatePreview, StateLocking, StateCapturing},
			wantAct: []Action{ActionNone, ActionNone, ActionCapture},
		},
		{
			name: "precapture metering",
			results: []camera.Result{
				{AF: sensor.AFFocusedLocked, AE: sensor.AESearching},
				{AF: sensor.AFFocusedLocked, AE: sensor.AESearching},
				{AF: sensor.AFFocusedLocked, AE: sensor.AEPrecapture},
				{AF: sensor.AFFocusedLocked, AE: sensor.AEPrecapture},
				{AF: sensor.AFFocusedLocked, AE: sensor.AEConverged},
			},
			want: []State{
				StatePreview, StateLocking, StateLocked, StatePrecapture, StateWaiting, StateCapturing,
			},
			wantAct: []Action{ActionTriggerPrecapture, ActionNone, ActionNone, ActionNone, ActionCapture},
		},
		{
			name: "flash required ends precapture",
			results: []camera.Result{
				{AF: sensor.AFFocusedLocked, AE: sensor.AESearching},
				{AF: sensor.AFFocusedLocked, AE: sensor.AEFlashRequired},
				{AF: sensor.AFFocusedLocked, AE: sensor.AEFlashRequired},
			},
			want: []State{
				StatePreview, StateLocking, StateLocked, StatePrecapture, StateWaiting, StateCapturing,
			},
			wantAct: []Action{ActionTriggerPrecapture, ActionNone, ActionCapture},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine()
			m.Start(true, false)
			for i, r := range tt.results {
				if act := m.Advance(r); act != tt.wantAct[i] {
					t.Errorf("result %d: action = %v, want %v", i, act, tt.wantAct[i])
				}
			}
			if got := m.History(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("history = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMachine_ExpireAndReset(t *testing.T) {
	m := NewMachine()
	if m.Expire() != ActionNone {
		t.Error("Expire in PREVIEW should do nothing")
	}
	m.Start(true, false)
	if m.Expire() != ActionCapture {
		t.Error("Expire while locking should capture")
	}
	if m.Advance(camera.Result{AF: sensor.AFFocusedLocked}) != ActionNone {
		t.Error("results after capturing should be ignored")
	}
	m.Reset()
	if m.State() != StatePreview || len(m.History()) != 1 {
		t.Errorf("after Reset: state %v, history %v", m.State(), m.History())
	}
	if m.Start(false, false) != ActionCapture {
		t.Error("machine should be reusable after Reset")
	}
}
