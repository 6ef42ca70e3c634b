/*
 * Copyright (C) 2023 Intel Corporation
 * SPDX-License-Identifier: MIT
 */
package msr

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// fakeCPUs lays out msr device files and topology for cpus, where
// packages[i] is the physical package of cpu i.
func fakeCPUs(t *testing.T, packages []int, newStyle bool) (devRoot string, sysRoot string) {
	t.Helper()
	root := t.TempDir()
	devRoot = filepath.Join(root, "dev", "cpu")
	sysRoot = filepath.Join(root, "sys")
	for cpu, pkg := range packages {
		dir := filepath.Join(devRoot, fmt.Sprintf("cpu%d", cpu))
		if newStyle {
			dir = filepath.Join(devRoot, fmt.Sprintf("%d", cpu))
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "msr"), nil, 0644); err != nil {
			t.Fatal(err)
		}
		topo := filepath.Join(sysRoot, "devices", "system", "cpu", fmt.Sprintf("cpu%d", cpu), "topology")
		if err := os.MkdirAll(topo, 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(topo, "physical_package_id"), []byte(fmt.Sprintf("%d\n", pkg)), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return
}

func writeReg(t *testing.T, fileName string, reg uint64, val uint64) {
	t.Helper()
	f, err := os.OpenFile(fileName, os.O_RDWR, 0644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	buf := binary.LittleEndian.AppendUint64(nil, val)
	if _, err = f.WriteAt(buf, int64(reg)); err != nil {
		t.Fatal(err)
	}
}

func TestNewMSR(t *testing.T) {
	devRoot, sysRoot := fakeCPUs(t, []int{0, 0, 1, 1}, true)
	msr, err := NewMSR(devRoot, sysRoot)
	if err != nil {
		t.Fatal(err)
	}
	if len(msr.fileNames) != 4 {
		t.Fatalf("expected 4 msr files, got %d", len(msr.fileNames))
	}
	if msr.PackageCount() != 2 {
		t.Fatalf("expected 2 packages, got %d", msr.PackageCount())
	}
	if msr.pkgFileNames[1] != filepath.Join(devRoot, "2", "msr") {
		t.Fatalf("unexpected package file %s", msr.pkgFileNames[1])
	}
}

func TestNewMSROldStyle(t *testing.T) {
	devRoot, sysRoot := fakeCPUs(t, []int{0, 0}, false)
	msr, err := NewMSR(devRoot, sysRoot)
	if err != nil {
		t.Fatal(err)
	}
	if msr.fileStyleNew {
		t.Fatal("expected old style msr files")
	}
	if msr.PackageCount() != 1 {
		t.Fatalf("expected 1 package, got %d", msr.PackageCount())
	}
}

func TestNewMSRMissing(t *testing.T) {
	if _, err := NewMSR(t.TempDir(), t.TempDir()); err == nil {
		t.Fatal("expected error when no msr files exist")
	}
}

func TestMaskUint64(t *testing.T) {
	if v := maskUint64(12, 8, 0xA0E03); v != 0xE {
		t.Fatalf("unexpected masked value %x", v)
	}
	if v := maskUint64(63, 0, 0xFFFFFFFFFFFFFFFF); v != 0xFFFFFFFFFFFFFFFF {
		t.Fatalf("unexpected masked value %x", v)
	}
}

func TestSetBitRange(t *testing.T) {
	devRoot, sysRoot := fakeCPUs(t, []int{0}, true)
	msr, err := NewMSR(devRoot, sysRoot)
	if err != nil {
		t.Fatal(err)
	}
	err = msr.SetBitRange(0, 1)
	if err == nil {
		t.Fatal("highBit < lowBit - should have failed")
	}
	err = msr.SetBitRange(64, 0)
	if err == nil {
		t.Fatal("highBit > 63 - should have failed")
	}
	err = msr.SetBitRange(63, 0)
	if err != nil {
		t.Fatal(err)
	}
	err = msr.SetBitRange(1, 0)
	if err != nil {
		t.Fatal(err)
	}
	err = msr.SetBitRange(63, 62)
	if err != nil {
		t.Fatal(err)
	}
}

func TestReadOne(t *testing.T) {
	devRoot, sysRoot := fakeCPUs(t, []int{0, 0}, true)
	writeReg(t, filepath.Join(devRoot, "1", "msr"), 0x606, 0xA0E03)
	msr, err := NewMSR(devRoot, sysRoot)
	if err != nil {
		t.Fatal(err)
	}
	fullVal, err := msr.ReadOne(0x606, 1)
	if err != nil {
		t.Fatal(err)
	}
	if fullVal != 0xA0E03 {
		t.Fatalf("unexpected value %x", fullVal)
	}
	err = msr.SetBitRange(12, 8)
	if err != nil {
		t.Fatal(err)
	}
	partialVal, err := msr.ReadOne(0x606, 1)
	if err != nil {
		t.Fatal(err)
	}
	if partialVal != 0xE {
		t.Fatalf("unexpected partial value %x", partialVal)
	}
	if _, err = msr.ReadOne(0x606, 7); err == nil {
		t.Fatal("expected error for missing core")
	}
}

func TestReadAll(t *testing.T) {
	devRoot, sysRoot := fakeCPUs(t, []int{0, 0, 0}, true)
	for cpu := 0; cpu < 3; cpu++ {
		writeReg(t, filepath.Join(devRoot, fmt.Sprintf("%d", cpu), "msr"), 0x611, uint64(cpu+10))
	}
	msr, err := NewMSR(devRoot, sysRoot)
	if err != nil {
		t.Fatal(err)
	}
	vals, err := msr.ReadAll(0x611)
	if err != nil {
		t.Fatal(err)
	}
	if len(vals) != 3 || vals[0] != 10 || vals[2] != 12 {
		t.Fatalf("unexpected values %v", vals)
	}
}

func TestReadPackages(t *testing.T) {
	devRoot, sysRoot := fakeCPUs(t, []int{0, 1, 0, 1}, true)
	writeReg(t, filepath.Join(devRoot, "0", "msr"), 0x611, 100)
	writeReg(t, filepath.Join(devRoot, "1", "msr"), 0x611, 200)
	msr, err := NewMSR(devRoot, sysRoot)
	if err != nil {
		t.Fatal(err)
	}
	if err = msr.SetBitRange(31, 0); err != nil {
		t.Fatal(err)
	}
	vals, err := msr.ReadPackages(0x611)
	if err != nil {
		t.Fatal(err)
	}
	if len(vals) != 2 || vals[0] != 100 || vals[1] != 200 {
		t.Fatalf("unexpected values %v", vals)
	}
}
