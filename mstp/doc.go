// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package mstp builds and matches the BACnet MS/TP derived frames spoken by
// Watlow EZ-Zone controllers on their RS-485/RS-422 port.
//
// Only three exchanges are known: reading the process value, reading the
// setpoint and writing the setpoint. Values travel in Fahrenheit.
package mstp
