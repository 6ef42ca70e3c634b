/*
Package msr implements functions to read MSRs.
*/
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
	"regexp"
	"strconv"

	"github.com/intel/svr-profiler/internal/util"
	"golang.org/x/exp/slices"
)

const (
	DefaultDevRoot = "/dev/cpu"
	DefaultSysRoot = "/sys"
)

type MSR struct {
	devRoot      string
	fileNames    []string // all msr file names, ordered by cpu
	pkgFileNames []string // one file name per package (CPU/Socket), ordered by package id
	fileStyleNew bool     // new style if true, old style if false
	lowBit       int      // low bit in requested bit range
	highBit      int      // high bit in requested bit range
}

// NewMSR locates the msr device files under devRoot (normally /dev/cpu) and
// groups them by package using the cpu topology found under sysRoot.
func NewMSR(devRoot string, sysRoot string) (msr *MSR, err error) {
	if devRoot == "" {
		devRoot = DefaultDevRoot
	}
	if sysRoot == "" {
		sysRoot = DefaultSysRoot
	}
	msr = &MSR{
		devRoot: devRoot,
		lowBit:  0,
		highBit: 63,
	}
	err = msr.init(sysRoot)
	return
}

var cpuNumRe = regexp.MustCompile(`(\d+)`)

func cpuOfFile(fileName string) int {
	match := cpuNumRe.FindString(filepath.Base(filepath.Dir(fileName)))
	cpu, err := strconv.Atoi(match)
	if err != nil {
		return -1
	}
	return cpu
}

func (msr *MSR) init(sysRoot string) (err error) {
	if _, err = os.Stat(filepath.Join(msr.devRoot, "cpu0", "msr")); err == nil {
		msr.fileStyleNew = false
		msr.fileNames, err = filepath.Glob(filepath.Join(msr.devRoot, "cpu*", "msr"))
	} else if _, err = os.Stat(filepath.Join(msr.devRoot, "0", "msr")); err == nil {
		msr.fileStyleNew = true
		msr.fileNames, err = filepath.Glob(filepath.Join(msr.devRoot, "*", "msr"))
	} else {
		err = fmt.Errorf("could not find the MSR files in %s (maybe you need a sudo modprobe msr)", msr.devRoot)
	}
	if err != nil {
		return
	}
	slices.SortFunc(msr.fileNames, func(a, b string) int {
		return cpuOfFile(a) - cpuOfFile(b)
	})
	// the first cpu of each physical package represents the package
	byPackage := make(map[int]string)
	var packages []int
	for _, fileName := range msr.fileNames {
		cpu := cpuOfFile(fileName)
		pkg := 0
		idPath := filepath.Join(sysRoot, "devices", "system", "cpu", fmt.Sprintf("cpu%d", cpu), "topology", "physical_package_id")
		if value, e := util.ReadTrimmed(idPath); e == nil {
			if id, e := strconv.Atoi(value); e == nil {
				pkg = id
			}
		}
		if _, ok := byPackage[pkg]; !ok {
			byPackage[pkg] = fileName
			packages = append(packages, pkg)
		}
	}
	slices.Sort(packages)
	for _, pkg := range packages {
		msr.pkgFileNames = append(msr.pkgFileNames, byPackage[pkg])
	}
	return
}

// PackageCount returns the number of packages (CPU/Socket) found.
func (msr *MSR) PackageCount() int {
	return len(msr.pkgFileNames)
}

// returns filenames for specified core and scope
// core == -1 indicates all cores
// packageScope arg ignored if specific core is requested
func (msr *MSR) getMSRFileNames(core int, packageScope bool) (fileNames []string) {
	if core == -1 {
		if packageScope {
			fileNames = msr.pkgFileNames
		} else {
			fileNames = msr.fileNames
		}
	} else if msr.fileStyleNew {
		fileNames = append(fileNames, filepath.Join(msr.devRoot, fmt.Sprintf("%d", core), "msr"))
	} else {
		fileNames = append(fileNames, filepath.Join(msr.devRoot, fmt.Sprintf("cpu%d", core), "msr"))
	}
	return
}

func maskUint64(highBit int, lowBit int, val uint64) (v uint64) {
	bits := highBit - lowBit + 1
	if bits < 64 {
		val >>= uint64(lowBit)
		val &= (uint64(1) << bits) - 1
	}
	v = val
	return
}

func (msr *MSR) read(reg uint64, fileName string, bytes int) (val uint64, err error) {
	f, err := os.Open(fileName)
	if err != nil {
		return
	}
	defer f.Close()
	buf := make([]byte, bytes)
	read, err := f.ReadAt(buf, int64(reg))
	if err != nil {
		return
	}
	if read != bytes {
		err = fmt.Errorf("didn't read intended number of bytes")
		return
	}
	val = binary.LittleEndian.Uint64(buf)
	val = maskUint64(msr.highBit, msr.lowBit, val)
	return
}

// SetBitRange filters bits for subsequent calls to Read* functions
func (msr *MSR) SetBitRange(highBit int, lowBit int) (err error) {
	if lowBit >= highBit {
		err = fmt.Errorf("lowBit must be less than highBit")
		return
	}
	if lowBit < 0 || lowBit > 62 {
		err = fmt.Errorf("lowBit must be a value between 0 and 62 (inclusive)")
		return
	}
	if highBit < 1 || highBit > 63 {
		err = fmt.Errorf("highBit must be a value between 1 and 63 (inclusive)")
		return
	}
	msr.lowBit = lowBit
	msr.highBit = highBit
	return
}

// ReadAll returns the register value for all cores
func (msr *MSR) ReadAll(reg uint64) (out []uint64, err error) {
	for _, fileName := range msr.getMSRFileNames(-1, false) {
		var val uint64
		if val, err = msr.read(reg, fileName, 8); err != nil {
			return
		}
		out = append(out, val)
	}
	return
}

// ReadOne returns the register value for the specified core
func (msr *MSR) ReadOne(reg uint64, core int) (out uint64, err error) {
	fileNames := msr.getMSRFileNames(core, false)
	if len(fileNames) != 1 {
		err = fmt.Errorf("did not find filenames for msr,core: %d, %d", reg, core)
		return
	}
	out, err = msr.read(reg, fileNames[0], 8)
	return
}

// ReadPackages returns the specified register value for each package (CPU/Socket)
func (msr *MSR) ReadPackages(reg uint64) (out []uint64, err error) {
	fileNames := msr.getMSRFileNames(-1, true)
	if len(fileNames) == 0 {
		err = fmt.Errorf("unable to identify msr files for package")
		return
	}
	for _, fileName := range fileNames {
		var val uint64
		if val, err = msr.read(reg, fileName, 8); err != nil {
			return
		}
		out = append(out, val)
	}
	return
}
