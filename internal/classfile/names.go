// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package classfile

import "strings"

// BinaryNameToDescriptor turns "java/lang/String" into "Ljava/lang/String;".
func BinaryNameToDescriptor(name string) string {
	return "L" + name + ";"
}

// DescriptorToBinaryName is the inverse of BinaryNameToDescriptor. It
// returns false for primitive and array descriptors.
func DescriptorToBinaryName(desc string) (string, bool) {
	if len(desc) < 3 || desc[0] != 'L' || desc[len(desc)-1] != ';' {
		return "", false
	}
	return desc[1 : len(desc)-1], true
}

// SimpleName returns the part of a binary name after the last '/' or '$'.
// The simple name of an anonymous class is its number.
func SimpleName(name string) string {
	if i := strings.LastIndexAny(name, "/$"); i >= 0 {
		return name[i+1:]
	}
	return name
}

// PackageName returns the package part of a binary name, "" for the default
// package.
func PackageName(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[:i]
	}
	return ""
}

// IsClassFileName is true for archive entries and files holding a class.
func IsClassFileName(name string) bool {
	return strings.HasSuffix(name, ".class") && !strings.HasSuffix(name, "module-info.class")
}

// ClassNameFromPath derives the expected binary name of an archive entry,
// "p/Foo.class" -> "p/Foo".
func ClassNameFromPath(entry string) string {
	return strings.TrimSuffix(strings.TrimPrefix(entry, "/"), ".class")
}
