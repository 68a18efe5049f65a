// Command heapctl exercises the block allocator and the cycle collector:
// it prints page layouts and runs reproducible object graph simulations.
package main

func main() {
	execute()
}
