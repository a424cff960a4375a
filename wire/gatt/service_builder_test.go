package gatt

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/user/bluelane/wire/att"
)

var (
	testService  = uuid.MustParse("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	testRead     = uuid.MustParse("6e400002-b5a3-f393-e0a9-e50e24dcca9e")
	testWrite    = uuid.MustParse("6e400003-b5a3-f393-e0a9-e50e24dcca9e")
	testIndicate = uuid.MustParse("6e400004-b5a3-f393-e0a9-e50e24dcca9e")
)

func buildTestTable(t *testing.T) *Table {
	t.Helper()
	table, err := NewTableBuilder().
		Service(testService).
		Characteristic(testRead, PropRead).
		Characteristic(testWrite, PropWrite|PropWriteWithoutResponse).
		Characteristic(testIndicate, PropIndicate).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return table
}

func TestBuilderAddsCCCDToSubscribableCharacteristics(t *testing.T) {
	table := buildTestTable(t)

	ind, err := table.Resolve(NewAddress(testService, testIndicate))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if _, ok := ind.Descriptor(CCCDUUID); !ok {
		t.Error("Expected CCCD on indicate characteristic")
	}

	read, _ := table.Resolve(NewAddress(testService, testRead))
	if _, ok := read.Descriptor(CCCDUUID); ok {
		t.Error("Read-only characteristic must not get a CCCD")
	}
}

func TestBuilderRejectsBadDefinitions(t *testing.T) {
	if _, err := NewTableBuilder().Build(); err == nil {
		t.Error("Expected error for empty table")
	}
	if _, err := NewTableBuilder().Characteristic(testRead, PropRead).Build(); err == nil {
		t.Error("Expected error for characteristic without service")
	}
	_, err := NewTableBuilder().
		Service(testService).
		Characteristic(testRead, PropRead).
		Characteristic(testRead, PropRead).
		Build()
	if err == nil {
		t.Error("Expected error for duplicate characteristic")
	}
}

func TestResolve(t *testing.T) {
	table := buildTestTable(t)

	tests := []struct {
		name    string
		addr    Address
		wantErr bool
	}{
		{"characteristic", NewAddress(testService, testRead), false},
		{"cccd", DescriptorAddress(testService, testIndicate, CCCDUUID), false},
		{"unknown service", NewAddress(uuid.New(), testRead), true},
		{"unknown characteristic", NewAddress(testService, uuid.New()), true},
		{"missing descriptor", DescriptorAddress(testService, testRead, CCCDUUID), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := table.Resolve(tt.addr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Resolve(%s) err = %v, wantErr %v", tt.addr, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, att.ErrAttributeNotFound) {
				t.Errorf("Expected ErrAttributeNotFound, got %v", err)
			}
		})
	}

	var nilTable *Table
	if _, err := nilTable.Resolve(NewAddress(testService, testRead)); err == nil {
		t.Error("Expected nil table to resolve nothing")
	}
}

func TestSubscribableAndFind(t *testing.T) {
	table := buildTestTable(t)

	subs := table.Subscribable()
	if len(subs) != 1 || subs[0] != NewAddress(testService, testIndicate) {
		t.Errorf("Subscribable = %v", subs)
	}

	addr, c, ok := table.FindCharacteristic(testWrite)
	if !ok || addr.Service != testService || !c.Writable() || !c.WritableWithoutResponse() {
		t.Errorf("FindCharacteristic = %v %+v %v", addr, c, ok)
	}
}

func TestCloneIsDeep(t *testing.T) {
	table := buildTestTable(t)
	clone := table.Clone()
	clone.Services[0].Characteristics[2].Descriptors[0].UUID = uuid.Nil

	ind, _ := table.Resolve(NewAddress(testService, testIndicate))
	if ind.Descriptors[0].UUID != CCCDUUID {
		t.Error("Mutating clone changed the original")
	}
}

func TestParseProperties(t *testing.T) {
	p, err := ParseProperties([]string{"read", "Notify", "indicate"})
	if err != nil {
		t.Fatalf("ParseProperties failed: %v", err)
	}
	if p != PropRead|PropNotify|PropIndicate {
		t.Errorf("got %s", p)
	}
	if _, err := ParseProperties([]string{"teleport"}); err == nil {
		t.Error("Expected error for unknown property")
	}
}

func TestAddressString(t *testing.T) {
	a := DescriptorAddress(testService, testIndicate, CCCDUUID)
	if got := a.String(); got != "6e400001/6e400004/0x2902" {
		t.Errorf("String() = %q", got)
	}
	if a.CharacteristicAddress().IsDescriptor() {
		t.Error("CharacteristicAddress must drop the descriptor")
	}
	if UUID16(0x2902).String() != "00002902-0000-1000-8000-00805f9b34fb" {
		t.Errorf("UUID16 = %s", UUID16(0x2902))
	}
}
