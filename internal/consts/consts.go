package consts

const (
	Tolerance         = 1e-8  // Residual infinity norm at convergence
	MaxIterations     = 20    // Newton-Raphson iteration ceiling
	MinVoltageSquared = 1e-12 // Floor for |V|^2 in power to current conversion
)

// Carson's equations, SI units with distances in metres.
const (
	CarsonRealCoeff   = 9.869611e-7 // Earth return resistance per Hz (ohm/m/Hz)
	CarsonImagCoeff   = 1.256642e-6 // Reactance coefficient per Hz (ohm/m/Hz)
	CarsonAdditive    = 6.490501    // Additive term in earth return reactance
	DefaultEarthRho   = 100.0       // Earth resistivity (ohm m)
	DefaultSystemFreq = 50.0        // Hz
)
