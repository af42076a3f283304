// Command isstrack serves ISS position, speed and ground-track queries backed
// by NASA's public OEM ephemeris.
package main

func main() {
	Execute()
}
