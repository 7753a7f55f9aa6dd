// Package memengine is an in-process implementation of [native.Engine].
//
// It loads a compact XML model document, compiles its formulas, integrates
// the resulting ODE system with the adaptive Dormand-Prince stepper from
// internal/integrators and serves results through the same handle-based call
// surface the native engine exposes. Every call reports its outcome as a
// [native.Status]; nothing in this package panics on bad input.
//
// # Model documents
//
//	<Simulation version="4">
//	  <Solver absTol="1e-10" relTol="1e-10" method="rk45"/>
//	  <OutputSchema>
//	    <Interval start="0" end="1" points="11"/>
//	    <TimePoint>0.25</TimePoint>
//	  </OutputSchema>
//	  <Parameters>
//	    <Parameter id="1" entityId="k" name="k" value="0.5"/>
//	    <Parameter id="2" entityId="k2" name="k2" formula="2 * k"/>
//	    <Parameter id="3" entityId="dose" name="dose">
//	      <Table><Point x="0" y="0"/><Point x="1" y="5" restartSolver="true"/></Table>
//	    </Parameter>
//	  </Parameters>
//	  <Species>
//	    <Species id="10" entityId="y1" name="y1" initialValue="2" rhs="-k * y1"/>
//	  </Species>
//	  <Observers>
//	    <Observer id="20" entityId="obs" name="obs" formula="2 * y1"/>
//	  </Observers>
//	</Simulation>
//
// Formulas reference other entities by entity id and the simulation time as
// Time. Species without a right-hand side, or with a literal zero one, are
// constant.
package memengine
